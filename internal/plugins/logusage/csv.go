package logusage

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

var csvHeader = []string{
	"request_id", "timestamp", "client",
	"aoai_endpoint", "aoai_virtual_deployment", "aoai_standin_deployment", "aoai_region",
	"method", "path",
	"prompt_tokens", "completion_tokens", "total_tokens",
	"roundtrip_time_ms", "is_streaming",
}

// CSVSink appends usage records to a CSV file, one row per record, writing
// the header once if the file is new or empty.
type CSVSink struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	batcher *asyncBatcher
}

func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logusage: open csv file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("logusage: stat csv file: %w", err)
	}

	s := &CSVSink{
		file:   file,
		writer: csv.NewWriter(file),
	}
	if info.Size() == 0 {
		if err := s.writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("logusage: write csv header: %w", err)
		}
		s.writer.Flush()
	}

	s.batcher = newAsyncBatcher(s.flushBatch)
	return s, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) LogUsage(rec Record) {
	s.batcher.enqueue(rec)
}

func (s *CSVSink) Close() error {
	if err := s.batcher.Close(); err != nil {
		return err
	}
	return s.file.Close()
}

func (s *CSVSink) flushBatch(batch []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range batch {
		row := []string{
			rec.RequestID, rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), rec.Client,
			rec.AOAIEndpoint, rec.AOAIVirtualDeployment, rec.AOAIStandinDeployment, rec.AOAIRegion,
			rec.Method, rec.Path,
			strconv.Itoa(rec.PromptTokens), strconv.Itoa(rec.CompletionTokens), strconv.Itoa(rec.TotalTokens),
			strconv.FormatInt(rec.RoundtripTimeMS, 10), strconv.FormatBool(rec.IsStreaming),
		}
		_ = s.writer.Write(row)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		slog.Warn("usage sink write failed", slog.String("sink", s.Name()), slog.String("error", err.Error()))
	}
}
