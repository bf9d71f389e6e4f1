package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job handles every message of one type. Handle receives the payload exactly
// as it was enqueued.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Publisher enqueues work for whichever process runs the matching Job.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Observer is told how each delivery ended. err is nil on success.
type Observer func(msgType string, elapsed time.Duration, err error)

// Config tunes a queue. Zero values fall back to defaults in NewRedisQueue.
type Config struct {
	Prefix     string        // key namespace, e.g. "finfeat:queue"
	Workers    int           // concurrent deliveries
	RetryLimit int           // failed deliveries before dead-lettering
	RetryDelay time.Duration // first backoff; doubles per attempt
	MaxDelay   time.Duration
	Poll       time.Duration // how long a worker blocks waiting for work
}

// Message is the stored envelope.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Stats reports how many messages wait in the main, retry and dead-letter keys.
type Stats struct {
	Pending    int64 `json:"pending"`
	Retrying   int64 `json:"retrying"`
	DeadLetter int64 `json:"dead_letter"`
}

// Decode unmarshals a payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, fmt.Errorf("queue: empty payload")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("queue: decode %T: %w", v, err)
	}
	return v, nil
}

// backoff is the delay before retry number attempt (1-based).
func (c Config) backoff(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt && d < c.MaxDelay; i++ {
		d *= 2
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}
