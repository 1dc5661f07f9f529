package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tjfontaine/completion-gateway/internal/codec"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

func payload(t *testing.T, ev domain.Event) []byte {
	t.Helper()
	b, err := codec.Payload(ev)
	if err != nil {
		t.Fatalf("codec.Payload(%s) error = %v", ev.Type, err)
	}
	return b
}

func TestTapMalformedBetweenDeltas(t *testing.T) {
	tap := NewTap(New(Config{}))

	delta := func(i int) []byte {
		return payload(t, domain.Event{Type: domain.EventTextDelta, ID: "t1", Delta: fmt.Sprintf("d%d ", i)})
	}
	for i := 0; i < 5; i++ {
		tap.Observe(delta(i))
	}
	tap.ObserveUndecodable([]byte(`{"type":"response.output_text.delta","delta":`), errors.New("unexpected end of JSON input"))
	tap.Observe(delta(5))
	tap.Observe(delta(6))
	tap.Observe(payload(t, domain.Event{Type: domain.EventFinish, FinishReason: "stop"}))

	s := tap.Close()
	if s.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", s.ParseErrors)
	}
	if s.EventCounts["text-delta"] != 7 {
		t.Errorf("EventCounts[text-delta] = %d, want 7", s.EventCounts["text-delta"])
	}
	if s.EventCounts["finish"] != 1 || s.FieldMismatches != 0 || s.UnknownTypes != 0 {
		t.Errorf("snapshot = %+v", s)
	}
	if !s.HasErrors {
		t.Error("HasErrors = false with a parse error")
	}
	if len(s.ParseSamples) != 1 || s.ParseSamples[0].Error != "unexpected end of JSON input" {
		t.Errorf("ParseSamples = %+v", s.ParseSamples)
	}
}

func TestParseErrorCap(t *testing.T) {
	m := New(Config{SampleCap: 3})
	for i := 0; i < 50; i++ {
		m.RecordParseError(errors.New("bad"), []byte(fmt.Sprintf("raw-%d", i)))
	}
	s := m.Complete()
	if s.ParseErrors != 50 {
		t.Errorf("ParseErrors = %d, want 50", s.ParseErrors)
	}
	if len(s.ParseSamples) != 3 {
		t.Fatalf("len(ParseSamples) = %d, want 3", len(s.ParseSamples))
	}
	if s.ParseSamples[0].Raw != "raw-0" || s.ParseSamples[2].Raw != "raw-2" {
		t.Errorf("samples must keep the oldest: %+v", s.ParseSamples)
	}
}

func TestUnknownTypeCap(t *testing.T) {
	m := New(Config{SampleCap: 2})
	m.RecordUnknownType("x-openai-a", []string{"type"})
	m.RecordUnknownType("x-openai-b", nil)
	m.RecordUnknownType("x-openai-c", nil)
	for i := 0; i < 4; i++ {
		m.RecordUnknownType("x-openai-a", nil)
	}

	s := m.Complete()
	if s.UnknownTypes != 7 {
		t.Errorf("UnknownTypes = %d, want 7", s.UnknownTypes)
	}
	if len(s.UnknownSamples) != 2 {
		t.Fatalf("UnknownSamples = %+v", s.UnknownSamples)
	}
	if s.UnknownSamples[0].Type != "x-openai-a" || s.UnknownSamples[0].Count != 5 {
		t.Errorf("first sample = %+v, want x-openai-a x5", s.UnknownSamples[0])
	}
	if got := s.Summary().UnknownTypes; got["x-openai-a"] != 5 || got["x-openai-b"] != 1 {
		t.Errorf("Summary().UnknownTypes = %v", got)
	}
}

func TestTapFieldPresence(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		mismatches int
		unknown    int
		parse      int
	}{
		{name: "empty delta is present", payload: `{"type":"text-delta","id":"t","delta":""}`},
		{name: "missing delta", payload: `{"type":"text-delta","id":"t"}`, mismatches: 1},
		{name: "null counts as present", payload: `{"type":"tool-call","toolCallId":"c","toolName":"n","input":null}`},
		{name: "missing two fields", payload: `{"type":"tool-input-start"}`, mismatches: 2},
		{name: "unknown type", payload: `{"type":"x-gemini-thing","a":1}`, unknown: 1},
		{name: "no type", payload: `{"delta":"x"}`, parse: 1},
		{name: "not json", payload: `data: [DONE]`, parse: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tap := NewTap(New(Config{}))
			tap.Observe([]byte(tt.payload))
			s := tap.Close()
			if s.FieldMismatches != tt.mismatches || s.UnknownTypes != tt.unknown || s.ParseErrors != tt.parse {
				t.Errorf("mismatches=%d unknown=%d parse=%d, want %d/%d/%d",
					s.FieldMismatches, s.UnknownTypes, s.ParseErrors, tt.mismatches, tt.unknown, tt.parse)
			}
			if s.HasErrors != (tt.mismatches+tt.unknown+tt.parse > 0) {
				t.Errorf("HasErrors = %v", s.HasErrors)
			}
		})
	}
}

func TestCompleteIsFinal(t *testing.T) {
	m := New(Config{})
	m.RecordEvent("text-delta")
	first := m.Complete()

	m.RecordEvent("text-delta")
	m.RecordParseError(nil, []byte("x"))
	second := m.Complete()

	if second.EventCounts["text-delta"] != 1 || second.ParseErrors != 0 {
		t.Errorf("records after Complete were accepted: %+v", second)
	}
	if !first.EndedAt.Equal(second.EndedAt) {
		t.Errorf("EndedAt changed: %v -> %v", first.EndedAt, second.EndedAt)
	}

	first.EventCounts["text-delta"] = 99
	if m.Snapshot().EventCounts["text-delta"] != 1 {
		t.Error("snapshot shares its map with the monitor")
	}
}

func TestStalled(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	m := newMonitor(Config{StallThreshold: time.Second}, func() time.Time { return now })

	if m.Stalled(base.Add(500 * time.Millisecond)) {
		t.Error("stalled before threshold")
	}
	if !m.Stalled(base.Add(2 * time.Second)) {
		t.Error("not stalled after threshold without events")
	}

	now = base.Add(2 * time.Second)
	m.RecordEvent("text-delta")
	if m.Stalled(base.Add(2500 * time.Millisecond)) {
		t.Error("stalled right after an event")
	}

	m.Complete()
	if m.Stalled(base.Add(time.Hour)) {
		t.Error("completed session reported stalled")
	}
}

func TestTapDropsWhenFull(t *testing.T) {
	m := New(Config{Buffer: 1})
	tap := newTap(m)
	tap.Observe([]byte(`{"type":"start","messageId":"m"}`))
	tap.Observe([]byte(`{"type":"finish","finishReason":"stop"}`))
	go tap.run()

	s := tap.Close()
	if s.ObserverDropped != 1 {
		t.Errorf("ObserverDropped = %d, want 1", s.ObserverDropped)
	}
	if s.EventCounts["start"] != 1 || s.EventCounts["finish"] != 0 {
		t.Errorf("EventCounts = %v", s.EventCounts)
	}
	if s.HasErrors {
		t.Error("dropped observations must not mark the stream unhealthy")
	}
}

func TestExporter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewExporter(mp)
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}

	m := New(Config{})
	m.RecordEvent("text-delta")
	m.RecordEvent("text-delta")
	m.RecordParseError(nil, nil)
	exp.Export(context.Background(), m.Complete(), attribute.String("provider", "openai"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				got[md.Name] += dp.Value
			}
		}
	}
	if got["gateway.stream.events"] != 2 || got["gateway.stream.parse_errors"] != 1 || got["gateway.stream.sessions"] != 1 {
		t.Errorf("collected = %v", got)
	}
	if got["gateway.stream.field_mismatches"] != 0 {
		t.Errorf("field_mismatches = %d, want 0", got["gateway.stream.field_mismatches"])
	}
}
