package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is a stored outbox row awaiting publication.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// Record is an event to be written in the same database transaction as the
// state change that caused it. That is what makes the downstream side effects
// fire exactly once: only the transition winner's transaction inserts them.
type Record struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
}
