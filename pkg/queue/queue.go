package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues typed messages.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Config controls workers and retries.
type Config struct {
	Workers    int           // number of workers
	RetryLimit int           // retries before dead-lettering
	RetryDelay time.Duration // delay before a retry becomes visible
	PopTimeout time.Duration // blocking pop window
	RetryPoll  time.Duration // how often due retries are moved back
}

// Message is the stored envelope.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	LastError string          `json:"last_error,omitempty"`
}

func newMessage(id, msgType string, payload interface{}, now time.Time) (Message, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = json.RawMessage(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return Message{}, fmt.Errorf("payload for %s is not valid json", msgType)
	}
	return Message{ID: id, Type: msgType, Payload: raw, Timestamp: now}, nil
}

// ParsePayload decodes a payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &out, nil
}
