// Package monitor observes the outgoing event stream of a session without
// touching delivery. It counts events by type and keeps bounded samples of
// malformed payloads, unseen event types and events missing required fields.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

const (
	DefaultSampleCap      = 20
	DefaultBuffer         = 256
	DefaultStallThreshold = 30 * time.Second
	maxSampleBytes        = 512
)

// Config bounds a monitor's memory and sets its stall threshold.
type Config struct {
	SampleCap      int
	Buffer         int
	StallThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleCap <= 0 {
		c.SampleCap = DefaultSampleCap
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	return c
}

// ParseError is one sampled malformed payload.
type ParseError struct {
	Error string    `json:"error"`
	Raw   string    `json:"raw"`
	At    time.Time `json:"at"`
}

// UnknownType is a sampled event type outside the canonical vocabulary.
type UnknownType struct {
	Type   string   `json:"type"`
	Count  int      `json:"count"`
	Fields []string `json:"fields,omitempty"`
}

// FieldMismatch records a known event missing a required field.
type FieldMismatch struct {
	EventType string   `json:"eventType"`
	Expected  string   `json:"expected"`
	Received  []string `json:"received"`
}

// Snapshot is the immutable final state of a monitor.
type Snapshot struct {
	EventCounts     map[string]int  `json:"eventCounts"`
	ParseErrors     int             `json:"parseErrors"`
	ParseSamples    []ParseError    `json:"parseSamples,omitempty"`
	UnknownTypes    int             `json:"unknownTypes"`
	UnknownSamples  []UnknownType   `json:"unknownSamples,omitempty"`
	FieldMismatches int             `json:"fieldMismatches"`
	MismatchSamples []FieldMismatch `json:"mismatchSamples,omitempty"`
	ObserverDropped int             `json:"observerDropped"`
	StartedAt       time.Time       `json:"startedAt"`
	LastEventAt     time.Time       `json:"lastEventAt"`
	EndedAt         time.Time       `json:"endedAt"`
	HasErrors       bool            `json:"hasErrors"`
	TotalEvents     int             `json:"totalEvents"`
}

// Summary converts the snapshot into the telemetry summary.
func (s Snapshot) Summary() domain.MonitorSummary {
	out := domain.MonitorSummary{
		HasErrors:       s.HasErrors,
		EventCounts:     s.EventCounts,
		ParseErrors:     s.ParseErrors,
		FieldMismatches: s.FieldMismatches,
		ObserverDropped: s.ObserverDropped,
	}
	if len(s.UnknownSamples) > 0 {
		out.UnknownTypes = make(map[string]int, len(s.UnknownSamples))
		for _, u := range s.UnknownSamples {
			out.UnknownTypes[u.Type] = u.Count
		}
	}
	return out
}

// Monitor accumulates metrics for one session. All methods are safe for
// concurrent use. After Complete it ignores further records.
type Monitor struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	counts       map[string]int
	total        int
	parseErrors  int
	parseSamples []ParseError
	unknownTotal int
	unknown      map[string]*UnknownType
	unknownOrder []string
	mismatches   int
	mismatchList []FieldMismatch
	dropped      int
	started      time.Time
	lastEvent    time.Time
	final        *Snapshot
}

// New creates a monitor started now.
func New(cfg Config) *Monitor {
	return newMonitor(cfg, time.Now)
}

func newMonitor(cfg Config, now func() time.Time) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		now:     now,
		counts:  make(map[string]int),
		unknown: make(map[string]*UnknownType),
		started: now(),
	}
}

// RecordEvent counts an event and refreshes the heartbeat.
func (m *Monitor) RecordEvent(eventType string) {
	m.recordEventAt(eventType, m.now())
}

func (m *Monitor) recordEventAt(eventType string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return
	}
	m.counts[eventType]++
	m.total++
	if at.After(m.lastEvent) {
		m.lastEvent = at
	}
}

// RecordParseError counts a malformed payload. Samples beyond the cap are
// discarded, keeping the oldest.
func (m *Monitor) RecordParseError(err error, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return
	}
	m.parseErrors++
	if len(m.parseSamples) >= m.cfg.SampleCap {
		return
	}
	msg := "malformed payload"
	if err != nil {
		msg = err.Error()
	}
	m.parseSamples = append(m.parseSamples, ParseError{Error: msg, Raw: truncate(raw), At: m.now()})
}

// RecordUnknownType counts an event type outside the vocabulary. Only the
// first SampleCap distinct types are kept with their fields and counts;
// the total keeps counting past that.
func (m *Monitor) RecordUnknownType(eventType string, fields []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return
	}
	m.unknownTotal++
	if u, ok := m.unknown[eventType]; ok {
		u.Count++
		return
	}
	if len(m.unknownOrder) >= m.cfg.SampleCap {
		return
	}
	m.unknown[eventType] = &UnknownType{Type: eventType, Count: 1, Fields: append([]string(nil), fields...)}
	m.unknownOrder = append(m.unknownOrder, eventType)
}

// RecordFieldMismatch flags a known event missing a required field.
func (m *Monitor) RecordFieldMismatch(expected string, received []string, eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return
	}
	m.mismatches++
	if len(m.mismatchList) >= m.cfg.SampleCap {
		return
	}
	m.mismatchList = append(m.mismatchList, FieldMismatch{
		EventType: eventType,
		Expected:  expected,
		Received:  append([]string(nil), received...),
	})
}

func (m *Monitor) recordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final == nil {
		m.dropped++
	}
}

// StallThreshold returns the configured heartbeat silence limit.
func (m *Monitor) StallThreshold() time.Duration { return m.cfg.StallThreshold }

// Stalled reports whether the session is open and no event has arrived
// within the stall threshold.
func (m *Monitor) Stalled(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return false
	}
	last := m.lastEvent
	if last.IsZero() {
		last = m.started
	}
	return now.Sub(last) > m.cfg.StallThreshold
}

// Complete ends the session and returns its final snapshot. Repeated calls
// return the same snapshot.
func (m *Monitor) Complete() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final == nil {
		s := m.snapshotLocked()
		s.EndedAt = m.now()
		m.final = &s
	}
	return *m.final
}

// Snapshot returns the current metrics without ending the session.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.final != nil {
		return *m.final
	}
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	s := Snapshot{
		EventCounts:     make(map[string]int, len(m.counts)),
		ParseErrors:     m.parseErrors,
		ParseSamples:    append([]ParseError(nil), m.parseSamples...),
		UnknownTypes:    m.unknownTotal,
		FieldMismatches: m.mismatches,
		MismatchSamples: append([]FieldMismatch(nil), m.mismatchList...),
		ObserverDropped: m.dropped,
		StartedAt:       m.started,
		LastEventAt:     m.lastEvent,
		TotalEvents:     m.total,
	}
	for k, v := range m.counts {
		s.EventCounts[k] = v
	}
	for _, name := range m.unknownOrder {
		u := *m.unknown[name]
		u.Fields = append([]string(nil), u.Fields...)
		s.UnknownSamples = append(s.UnknownSamples, u)
	}
	s.HasErrors = s.ParseErrors > 0 || s.UnknownTypes > 0 || s.FieldMismatches > 0
	return s
}

// Types returns the observed event types in sorted order.
func (s Snapshot) Types() []string {
	out := make([]string, 0, len(s.EventCounts))
	for k := range s.EventCounts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func truncate(raw []byte) string {
	if len(raw) > maxSampleBytes {
		return string(raw[:maxSampleBytes])
	}
	return string(raw)
}
