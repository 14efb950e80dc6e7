package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, expected := range want {
		if got := p.Delay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
	if got := p.Delay(0); got != time.Second {
		t.Fatalf("attempt 0 should clamp to the base, got %s", got)
	}
	if got := p.Delay(500); got != 10*time.Second {
		t.Fatalf("large attempt should stay capped, got %s", got)
	}
}

func TestBackoffWithoutBase(t *testing.T) {
	if got := (BackoffPolicy{}).Delay(3); got != 0 {
		t.Fatalf("expected zero delay, got %s", got)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	id := uuid.NewString()
	env, err := DecodeEnvelope([]byte(`{"eventId":"` + id + `","type":"order_created","schemaVersion":1,"topic":"t","occurredAt":"2026-03-01T09:30:00Z","data":{"a":1}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventID != id || env.Topic != "t" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	bad := []string{
		`not json`,
		`{"eventId":"nope","type":"order_created","schemaVersion":1,"data":{}}`,
		`{"eventId":"` + id + `","schemaVersion":1,"data":{}}`,
		`{"eventId":"` + id + `","type":"order_created","schemaVersion":0,"data":{}}`,
		`{"eventId":"` + id + `","type":"order_created","schemaVersion":1,"data":null}`,
	}
	for _, raw := range bad {
		if _, err := DecodeEnvelope([]byte(raw)); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("expected ErrInvalidEnvelope for %s, got %v", raw, err)
		}
	}
}
