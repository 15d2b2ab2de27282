package server

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/powerproxy/internal/dispatch"
	"github.com/nulpointcorp/powerproxy/internal/routingslip"
)

// forwardBuffered reads the full upstream body, attempts a JSON parse, fires
// on_body_dict_from_target_available on success, and writes the body
// verbatim to the caller.
func (s *Server) forwardBuffered(ctx *fasthttp.RequestCtx, upstream *dispatch.UpstreamResponse, slip *routingslip.Slip) {
	var buf strings.Builder
	if _, err := buf.ReadFrom(upstream.Body); err != nil {
		s.log.Warn("reading buffered upstream body", slog.Any("error", err))
	}
	slip.AOAIRoundtripTimeMS = time.Now().UnixMilli() - slip.AOAIRequestStartTimeMS
	raw := []byte(buf.String())

	var parsed map[string]any
	if json.Unmarshal(raw, &parsed) == nil {
		slip.BodyDictFromTarget = parsed
		if err := s.fire(s.bus.FireBodyDictFromTargetAvailable(slip)); err != nil {
			s.writeErr(ctx, err)
			return
		}
	}

	ctx.SetBody(raw)
}

// forwardStream yields each upstream line verbatim with CRLF. Lines
// beginning with the literal "data: " have that 6-character prefix
// stripped and, unless the payload is "[DONE]", fire
// on_data_event_from_target_received. Once the stream closes,
// on_end_of_target_response_stream_reached fires exactly once.
func (s *Server) forwardStream(ctx *fasthttp.RequestCtx, upstream *dispatch.UpstreamResponse, slip *routingslip.Slip) {
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer w.Flush()

		scanner := bufio.NewScanner(upstream.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if _, err := w.WriteString(line); err != nil {
				return
			}
			if _, err := w.WriteString("\r\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				continue
			}
			if err := s.fireDataEvent(slip, payload); err != nil {
				return
			}
		}

		slip.AOAIRoundtripTimeMS = time.Now().UnixMilli() - slip.AOAIRequestStartTimeMS
		if err := s.fire(s.bus.FireEndOfTargetResponseStreamReached(slip)); err != nil {
			s.log.Warn("plugin error at end of stream", slog.Any("error", err))
		}
	})
}

func (s *Server) fireDataEvent(slip *routingslip.Slip, payload string) error {
	if err := s.bus.FireDataEventFromTargetReceived(slip, payload); err != nil {
		s.log.Warn("plugin error handling data event", slog.Any("error", err))
		return err
	}
	return nil
}
