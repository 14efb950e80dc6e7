package instance

import "testing"

func TestResolvePrefersExplicitID(t *testing.T) {
	t.Setenv("EVENTRELAY_INSTANCE_ID", " relay-a ")
	t.Setenv("WORKER_ID", "worker-b")
	if got := resolve(); got != "relay-a" {
		t.Fatalf("expected relay-a, got %q", got)
	}

	t.Setenv("EVENTRELAY_INSTANCE_ID", "")
	if got := resolve(); got != "worker-b" {
		t.Fatalf("expected worker-b, got %q", got)
	}

	t.Setenv("WORKER_ID", "")
	if got := resolve(); got == "" {
		t.Fatal("expected hostname or pid fallback")
	}
}
