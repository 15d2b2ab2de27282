package logusage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink writes usage records into a ClickHouse table, giving this
// proxy its own durable analytics sink in place of the original's
// log-analytics ingestion client. Batches are pushed with an async insert so
// the background flush never waits on ClickHouse's own disk flush.
type ClickHouseSink struct {
	conn  driver.Conn
	table string

	batcher *asyncBatcher
}

func NewClickHouseSink(ctx context.Context, addr, database, username, password, table string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logusage: open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("logusage: ping clickhouse: %w", err)
	}

	if table == "" {
		table = "powerproxy_usage"
	}

	s := &ClickHouseSink{conn: conn, table: table}
	s.batcher = newAsyncBatcher(s.flushBatch)
	return s, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) LogUsage(rec Record) {
	s.batcher.enqueue(rec)
}

func (s *ClickHouseSink) Close() error {
	if err := s.batcher.Close(); err != nil {
		return err
	}
	return s.conn.Close()
}

func (s *ClickHouseSink) flushBatch(batch []Record) {
	ctx := context.Background()
	query := fmt.Sprintf(`INSERT INTO %s (
		request_id, timestamp, client, aoai_endpoint, aoai_virtual_deployment,
		aoai_standin_deployment, aoai_region, method, path,
		prompt_tokens, completion_tokens, total_tokens, roundtrip_time_ms, is_streaming
	)`, s.table)

	for _, rec := range batch {
		err := s.conn.AsyncInsert(ctx, query, false,
			rec.RequestID, rec.Timestamp, rec.Client, rec.AOAIEndpoint, rec.AOAIVirtualDeployment,
			rec.AOAIStandinDeployment, rec.AOAIRegion, rec.Method, rec.Path,
			rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.RoundtripTimeMS, rec.IsStreaming,
		)
		if err != nil {
			slog.Warn("usage sink write failed", slog.String("sink", s.Name()), slog.String("error", err.Error()))
		}
	}
}
