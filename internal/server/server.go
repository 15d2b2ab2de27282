// Package server implements the ProxyServer (spec §4.1): the HTTP front
// end that turns an inbound request into a RoutingSlip, runs it through
// ClientIdentifier, the PluginBus, and the Dispatcher, and forwards the
// upstream response back to the caller, buffered or streamed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/powerproxy/internal/clientid"
	"github.com/nulpointcorp/powerproxy/internal/dispatch"
	"github.com/nulpointcorp/powerproxy/internal/logger"
	"github.com/nulpointcorp/powerproxy/internal/metrics"
	"github.com/nulpointcorp/powerproxy/internal/pluginbus"
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
	"github.com/nulpointcorp/powerproxy/pkg/respond"
)

const livenessPath = "/powerproxy/health/liveness"

// Server is the ProxyServer.
type Server struct {
	identifier *clientid.Identifier
	bus        *pluginbus.Bus
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Registry
	access     *logger.Logger

	log *slog.Logger
}

func New(identifier *clientid.Identifier, bus *pluginbus.Bus, dispatcher *dispatch.Dispatcher, metricsReg *metrics.Registry, access *logger.Logger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{identifier: identifier, bus: bus, dispatcher: dispatcher, metrics: metricsReg, access: access, log: log}
}

// StartWithRoutes starts the HTTP server on addr, with an optional metrics
// handler mounted at /metrics.
func (s *Server) StartWithRoutes(addr string, metricsHandler fasthttp.RequestHandler) error {
	r := router.New()
	r.GET(livenessPath, s.handleLiveness)
	if metricsHandler != nil {
		r.GET("/metrics", metricsHandler)
	}
	r.NotFound = s.handleProxy

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:            handler,
		ReadTimeout:        120 * time.Second,
		WriteTimeout:       120 * time.Second,
		IdleTimeout:        120 * time.Second,
		StreamRequestBody:  true,
	}
	return srv.ListenAndServe(addr)
}

func (s *Server) handleLiveness(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// handleProxy implements request handling steps (a)-(j) of spec §4.1.
func (s *Server) handleProxy(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.IncInFlight()
		defer s.metrics.DecInFlight()
	}

	requestID, _ := ctx.UserValue("request_id").(string)

	// (a) read full body into memory.
	rawBody := append([]byte(nil), ctx.PostBody()...)

	headers := make(map[string]string)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})

	slip := routingslip.New(requestID, string(ctx.Method()), string(ctx.Path()), string(ctx.QueryArgs().QueryString()), headers, rawBody)

	// (b) attempt JSON parse, tolerating failure.
	if len(rawBody) > 0 {
		var body map[string]any
		if err := json.Unmarshal(rawBody, &body); err == nil {
			slip.BodyJSON = body
		}
	}

	// (c) derive is_non_streaming_response_requested.
	slip.IsNonStreamingResponseRequested = true
	if slip.BodyJSON != nil {
		if streamVal, ok := slip.BodyJSON["stream"].(bool); ok && streamVal {
			slip.IsNonStreamingResponseRequested = false
		}
	}

	// (d) extract virtual deployment from /deployments/<name>.
	slip.VirtualDeployment = extractVirtualDeployment(slip.Path)

	statusCode := s.run(ctx, slip)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveHTTP(statusCode, elapsed)
	}
	if s.access != nil {
		s.access.Log(logger.AccessLog{
			RequestID:  requestID,
			Method:     slip.Method,
			Path:       slip.Path,
			Client:     slip.Client,
			StatusCode: statusCode,
			LatencyMs:  elapsed.Milliseconds(),
			CreatedAt:  slip.RequestReceivedUTC,
		})
	}
}

func (s *Server) run(ctx *fasthttp.RequestCtx, slip *routingslip.Slip) int {
	// (e) on_new_request_received.
	if err := s.fire(s.bus.FireNewRequestReceived(slip)); err != nil {
		return s.writeErr(ctx, err)
	}

	// (f) ClientIdentifier resolves client.
	client, err := s.identifier.Identify(slip.Header("api-key"), slip.Header("authorization"))
	if err != nil {
		return s.writeErr(ctx, err)
	}
	slip.Client = client

	// (g) on_client_identified.
	if err := s.fire(s.bus.FireClientIdentified(slip)); err != nil {
		return s.writeErr(ctx, err)
	}

	// (h) Dispatcher returns upstream response or raises ImmediateResponse(429).
	upstream, err := s.dispatcher.Dispatch(context.Background(), slip)
	if err != nil {
		return s.writeErr(ctx, err)
	}
	defer upstream.Body.Close()

	slip.HeadersFromTarget = upstream.Headers
	slip.IsStreaming = upstream.IsStreaming

	// (i) on_headers_from_target_received.
	if err := s.fire(s.bus.FireHeadersFromTargetReceived(slip)); err != nil {
		return s.writeErr(ctx, err)
	}

	for k, v := range upstream.Headers {
		if strings.EqualFold(k, "content-length") && upstream.Headers["Transfer-Encoding"] != "" {
			continue
		}
		ctx.Response.Header.Set(k, v)
	}
	ctx.SetStatusCode(upstream.StatusCode)

	// (j) branch on content-type.
	if upstream.IsStreaming {
		s.forwardStream(ctx, upstream, slip)
	} else {
		s.forwardBuffered(ctx, upstream, slip)
	}

	return upstream.StatusCode
}

func (s *Server) fire(err error) error {
	return err
}

func (s *Server) writeErr(ctx *fasthttp.RequestCtx, err error) int {
	var immediate *respond.ImmediateResponse
	if errors.As(err, &immediate) {
		respond.Write(ctx, immediate)
		return immediate.StatusCode
	}
	s.log.Error("unexpected proxy error", slog.Any("error", err))
	respond.WriteGenericError(ctx)
	return fasthttp.StatusInternalServerError
}

// extractVirtualDeployment returns the path segment following
// "/deployments/", or "" if the path carries no such segment.
func extractVirtualDeployment(path string) string {
	const marker = "/deployments/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(marker):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}
