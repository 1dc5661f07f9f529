package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

var (
	errInvalidJSON = errors.New("payload is not valid JSON")
	errMissingType = errors.New("payload has no type")
)

type observation struct {
	payload []byte
	err     error
	at      time.Time
}

// Tap feeds a Monitor from a side channel. Observe never blocks: when the
// buffer is full the observation is dropped and counted.
type Tap struct {
	m    *Monitor
	ch   chan observation
	done chan struct{}
	once sync.Once
}

// NewTap starts a tap that inspects payloads on its own goroutine.
func NewTap(m *Monitor) *Tap {
	t := newTap(m)
	go t.run()
	return t
}

func newTap(m *Monitor) *Tap {
	return &Tap{
		m:    m,
		ch:   make(chan observation, m.cfg.Buffer),
		done: make(chan struct{}),
	}
}

// Monitor returns the monitor this tap feeds.
func (t *Tap) Monitor() *Monitor { return t.m }

// Observe queues a delivered JSON payload for inspection. The caller must
// not modify payload afterwards.
func (t *Tap) Observe(payload []byte) {
	t.send(observation{payload: payload, at: time.Now()})
}

// ObserveUndecodable queues a payload the adapter failed to decode.
func (t *Tap) ObserveUndecodable(raw []byte, err error) {
	if err == nil {
		err = errInvalidJSON
	}
	t.send(observation{payload: raw, err: err, at: time.Now()})
}

func (t *Tap) send(o observation) {
	select {
	case t.ch <- o:
	default:
		t.m.recordDropped()
	}
}

// Close drains queued observations and completes the monitor.
func (t *Tap) Close() Snapshot {
	t.once.Do(func() { close(t.ch) })
	<-t.done
	return t.m.Complete()
}

func (t *Tap) run() {
	defer close(t.done)
	for o := range t.ch {
		t.inspect(o)
	}
}

func (t *Tap) inspect(o observation) {
	if o.err != nil {
		t.m.RecordParseError(o.err, o.payload)
		return
	}
	if !gjson.ValidBytes(o.payload) {
		t.m.RecordParseError(errInvalidJSON, o.payload)
		return
	}
	root := gjson.ParseBytes(o.payload)
	typ := root.Get("type")
	if !typ.Exists() || typ.Type != gjson.String || typ.Str == "" {
		t.m.RecordParseError(errMissingType, o.payload)
		return
	}

	eventType := domain.EventType(typ.Str)
	t.m.recordEventAt(typ.Str, o.at)
	if !eventType.Known() {
		t.m.RecordUnknownType(typ.Str, fieldNames(root))
		return
	}
	for _, field := range domain.RequiredFields[eventType] {
		// Presence only: an empty string or zero is a valid value.
		if !root.Get(field).Exists() {
			t.m.RecordFieldMismatch(field, fieldNames(root), typ.Str)
		}
	}
}

func fieldNames(root gjson.Result) []string {
	var out []string
	root.ForEach(func(key, _ gjson.Result) bool {
		out = append(out, key.Str)
		return true
	})
	return out
}
