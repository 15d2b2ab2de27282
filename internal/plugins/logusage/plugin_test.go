package logusage

import (
	"sync"
	"testing"

	"github.com/nulpointcorp/powerproxy/internal/routingslip"
)

// TestPluginRecordsTimestampFromRequestArrivalNotCompletion guards against
// stamping the usage record at the moment token counts become available
// (which, for a long streaming completion, can be long after the request
// actually arrived) instead of at request arrival.
func TestPluginRecordsTimestampFromRequestArrivalNotCompletion(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)

	slip := routingslip.New("req-1", "POST", "/x", "", nil, nil)
	arrivedAt := slip.RequestReceivedUTC
	slip.BodyDictFromTarget = map[string]any{
		"usage": map[string]any{"prompt_tokens": float64(1), "completion_tokens": float64(1), "total_tokens": float64(2)},
	}

	if err := p.OnBodyDictFromTargetAvailable(slip); err != nil {
		t.Fatalf("OnBodyDictFromTargetAvailable: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	if !sink.records[0].Timestamp.Equal(arrivedAt) {
		t.Fatalf("Timestamp = %v, want slip.RequestReceivedUTC = %v", sink.records[0].Timestamp, arrivedAt)
	}
}

// fakeSink records every Record handed to it, for assertion, without any
// batching of its own.
type fakeSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) LogUsage(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *fakeSink) Close() error { return nil }

func TestPluginFansOutToEverySink(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	p := New(a, b)

	slip := routingslip.New("req-1", "POST", "/x", "", nil, nil)
	slip.Client = "alice"
	slip.BodyDictFromTarget = map[string]any{
		"usage": map[string]any{"prompt_tokens": float64(10), "completion_tokens": float64(5), "total_tokens": float64(15)},
	}

	if err := p.OnBodyDictFromTargetAvailable(slip); err != nil {
		t.Fatalf("OnBodyDictFromTargetAvailable: %v", err)
	}

	for _, sink := range []*fakeSink{a, b} {
		if len(sink.records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(sink.records))
		}
		rec := sink.records[0]
		if rec.Client != "alice" || rec.PromptTokens != 10 || rec.CompletionTokens != 5 || rec.TotalTokens != 15 {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}
}

func TestPluginCapturesRegionFromTargetHeaders(t *testing.T) {
	p := New()
	slip := routingslip.New("req-1", "POST", "/x", "", nil, nil)
	slip.HeadersFromTarget = map[string]string{"X-MS-Region": "westus2"}

	if err := p.OnHeadersFromTargetReceived(slip); err != nil {
		t.Fatalf("OnHeadersFromTargetReceived: %v", err)
	}
	if slip.AOAIRegion != "westus2" {
		t.Fatalf("AOAIRegion = %q, want westus2", slip.AOAIRegion)
	}
}

func TestPluginRegionCaptureIsCaseInsensitive(t *testing.T) {
	p := New()
	slip := routingslip.New("req-1", "POST", "/x", "", nil, nil)
	slip.HeadersFromTarget = map[string]string{"x-ms-region": "eastus"}

	_ = p.OnHeadersFromTargetReceived(slip)
	if slip.AOAIRegion != "eastus" {
		t.Fatalf("AOAIRegion = %q, want eastus", slip.AOAIRegion)
	}
}

func TestPluginRegionAbsentLeavesFieldEmpty(t *testing.T) {
	p := New()
	slip := routingslip.New("req-1", "POST", "/x", "", nil, nil)
	slip.HeadersFromTarget = map[string]string{"content-type": "application/json"}

	_ = p.OnHeadersFromTargetReceived(slip)
	if slip.AOAIRegion != "" {
		t.Fatalf("AOAIRegion = %q, want empty", slip.AOAIRegion)
	}
}

func TestPluginStreamingPathBuildsRecordFromEstimatedTokens(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)

	slip := routingslip.New("req-1", "POST", "/x", "", nil, nil)
	slip.BodyJSON = map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "hello there"}},
	}
	slip.IsStreaming = true

	_ = p.OnDataEventFromTargetReceived(slip, "hello")
	_ = p.OnDataEventFromTargetReceived(slip, "world")
	if err := p.OnEndOfTargetResponseStreamReached(slip); err != nil {
		t.Fatalf("OnEndOfTargetResponseStreamReached: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	rec := sink.records[0]
	if rec.CompletionTokens != 2 {
		t.Fatalf("CompletionTokens = %d, want 2", rec.CompletionTokens)
	}
	if !rec.IsStreaming {
		t.Fatal("expected IsStreaming to be true")
	}
}

func TestEqualFoldRegion(t *testing.T) {
	cases := map[string]bool{
		"x-ms-region": true,
		"X-MS-Region": true,
		"X-Ms-REGION": true,
		"x-ms-regio":  false,
		"x-ms-regions": false,
	}
	for header, want := range cases {
		if got := equalFoldRegion(header); got != want {
			t.Fatalf("equalFoldRegion(%q) = %v, want %v", header, got, want)
		}
	}
}
