package logusage

import "log/slog"

// ConsoleSink writes usage records through slog, batched off the hot path.
type ConsoleSink struct {
	log     *slog.Logger
	batcher *asyncBatcher
}

func NewConsoleSink(log *slog.Logger) *ConsoleSink {
	s := &ConsoleSink{log: log}
	s.batcher = newAsyncBatcher(s.flushBatch)
	return s
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) LogUsage(rec Record) {
	s.batcher.enqueue(rec)
}

func (s *ConsoleSink) Close() error {
	return s.batcher.Close()
}

func (s *ConsoleSink) flushBatch(batch []Record) {
	for _, rec := range batch {
		s.log.Info("usage",
			slog.String("request_id", rec.RequestID),
			slog.String("client", rec.Client),
			slog.String("aoai_endpoint", rec.AOAIEndpoint),
			slog.String("aoai_virtual_deployment", rec.AOAIVirtualDeployment),
			slog.String("aoai_standin_deployment", rec.AOAIStandinDeployment),
			slog.String("aoai_region", rec.AOAIRegion),
			slog.Int("prompt_tokens", rec.PromptTokens),
			slog.Int("completion_tokens", rec.CompletionTokens),
			slog.Int("total_tokens", rec.TotalTokens),
			slog.Int64("roundtrip_time_ms", rec.RoundtripTimeMS),
			slog.Bool("is_streaming", rec.IsStreaming),
			slog.Time("timestamp", rec.Timestamp),
		)
	}
}
