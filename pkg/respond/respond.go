// Package respond provides the ImmediateResponse sentinel: a carried HTTP
// response that short-circuits the request pipeline. Plugins and the
// dispatcher return this instead of a generic error when they need to write
// a specific status/body/headers back to the caller verbatim.
package respond

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// ImmediateResponse carries a fully formed HTTP response. The top-level
// request handler recognises it via errors.As and writes it verbatim,
// aborting the rest of the pipeline for the current request.
type ImmediateResponse struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

func (r *ImmediateResponse) Error() string {
	return fmt.Sprintf("immediate response: status=%d", r.StatusCode)
}

// New builds an ImmediateResponse with a JSON body.
func New(status int, body any) *ImmediateResponse {
	return &ImmediateResponse{StatusCode: status, Body: body}
}

// WithHeader attaches a response header and returns the receiver for chaining.
func (r *ImmediateResponse) WithHeader(key, value string) *ImmediateResponse {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// Unauthorized builds a 401 ImmediateResponse with an {"error": message} body.
func Unauthorized(message string) *ImmediateResponse {
	return New(fasthttp.StatusUnauthorized, map[string]string{"error": message})
}

// DeploymentMisconfigured builds a 500 ImmediateResponse for a client
// configuration that is missing a required plugin setting.
func DeploymentMisconfigured(message string) *ImmediateResponse {
	return New(fasthttp.StatusInternalServerError, map[string]string{"error": message})
}

// NoCapacity builds a 429 ImmediateResponse with a {"message": ...} body,
// matching the Dispatcher's exhausted-targets response shape.
func NoCapacity(message string) *ImmediateResponse {
	return New(fasthttp.StatusTooManyRequests, map[string]string{"message": message})
}

// TooManyRequestsForClient builds a 429 for a rate-limited client.
func TooManyRequestsForClient(message string) *ImmediateResponse {
	return New(fasthttp.StatusTooManyRequests, map[string]string{"message": message})
}

// Write serialises r onto ctx, setting status, headers, and a JSON body.
func Write(ctx *fasthttp.RequestCtx, r *ImmediateResponse) {
	ctx.ResetBody()
	for k, v := range r.Headers {
		ctx.Response.Header.Set(k, v)
	}
	ctx.SetStatusCode(r.StatusCode)
	if r.Body == nil {
		return
	}
	if raw, ok := r.Body.([]byte); ok {
		ctx.SetBody(raw)
		return
	}
	ctx.SetContentType("application/json")
	data, err := json.Marshal(r.Body)
	if err != nil {
		ctx.SetBodyString(`{"error":"internal server error"}`)
		return
	}
	ctx.SetBody(data)
}

// WriteGenericError writes a non-ImmediateResponse error as a generic 500
// without leaking internal error details to the caller.
func WriteGenericError(ctx *fasthttp.RequestCtx) {
	ctx.ResetBody()
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"internal server error"}`)
}
