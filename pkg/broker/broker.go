// Package broker is the publish boundary between the outbox publisher and a
// message broker. Every adapter classifies its failures as permanent or
// transient; anything not marked permanent is retried by the caller.
package broker

import (
	"context"
	"errors"
)

// Message is one outbox record on its way to the broker. Key carries the
// event id so brokers that dedupe or partition by key can use it.
type Message struct {
	Topic      string
	Key        string
	Payload    []byte
	Attributes map[string]string
}

// Attribute names attached to every message.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrSchemaVersion = "schema_version"
	AttrTopic         = "topic"
	AttrCreatedAt     = "created_at"
)

// Publisher sends a message and returns once the broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// PermanentError marks a failure that retrying the same message cannot fix,
// such as a payload rejected by the broker.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent publish error"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm PermanentError
	return errors.As(err, &perm)
}

func validate(msg Message) error {
	if msg.Topic == "" {
		return Permanent(errors.New("message topic is required"))
	}
	if len(msg.Payload) == 0 {
		return Permanent(errors.New("message payload is required"))
	}
	return nil
}
