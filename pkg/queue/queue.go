package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotRunning     = errors.New("queue: not running")
	ErrUnknownType    = errors.New("queue: no job registered for type")
	ErrStatusNotFound = errors.New("queue: job status not found")
)

// Publisher enqueues typed messages and returns the message id.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// Tracker reports the lifecycle of an enqueued message.
type Tracker interface {
	Status(ctx context.Context, id string) (*Status, error)
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int           // number of workers
	RetryLimit int           // number of maximum retries
	RetryDelay time.Duration // time delay between retries
	StatusTTL  time.Duration // how long finished statuses are kept
}

// Message represents a message in the queue
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateRetrying State = "retrying"
	StateDone     State = "done"
	StateDead     State = "dead"
)

// Status is the tracked state of one message.
type Status struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	State      State           `json:"state"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Finished reports whether the message will not run again.
func (s *Status) Finished() bool {
	return s.State == StateDone || s.State == StateDead
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var result T
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &result, nil
}
