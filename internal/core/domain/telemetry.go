package domain

import "time"

// SessionStatus is the terminal state of a stream session as reported to
// telemetry consumers.
type SessionStatus string

const (
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// MonitorSummary is the subset of monitor metrics exported with a session.
type MonitorSummary struct {
	HasErrors       bool           `json:"hasErrors"`
	EventCounts     map[string]int `json:"eventCounts"`
	ParseErrors     int            `json:"parseErrors"`
	UnknownTypes    map[string]int `json:"unknownTypes,omitempty"`
	FieldMismatches int            `json:"fieldMismatches"`
	ObserverDropped int            `json:"observerDropped,omitempty"`
}

// SessionRecord is emitted once per session on its terminal transition.
type SessionRecord struct {
	RequestID    string            `json:"requestId"`
	Subject      string            `json:"subject"`
	Provider     string            `json:"provider"`
	ModelID      string            `json:"modelId"`
	Source       Source            `json:"source"`
	Effective    Effective         `json:"effective"`
	Status       SessionStatus     `json:"status"`
	ErrorKind    Kind              `json:"errorKind,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
	Usage        Usage             `json:"usage"`
	CostUSD      float64           `json:"costUsd"`
	Monitor      MonitorSummary    `json:"monitor"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	EndedAt      time.Time         `json:"endedAt"`

	// Raw payloads, present only with the caller's consent.
	Input  []Message `json:"input,omitempty"`
	Output string    `json:"output,omitempty"`
}

// Duration is the wall time of the session.
func (r *SessionRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Identity is a caller's durable identity as known to the persistence layer.
type Identity struct {
	Subject   string    `json:"subject"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}
