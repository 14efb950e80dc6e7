package cron

import (
	"context"
	"strings"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	retention := &stubJob{name: "outbox-retention"}
	backlog := &stubJob{name: "outbox-backlog"}
	registry := mustRegistry(t, retention, nil, backlog)

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != retention || jobs[1] != backlog {
		t.Fatalf("unexpected jobs %v", registry.Names())
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
	if got := strings.Join(registry.Names(), ","); got != "outbox-retention,outbox-backlog" {
		t.Fatalf("unexpected names %q", got)
	}
}

func TestRegistryRejectsDuplicateAndBlankNames(t *testing.T) {
	if _, err := NewRegistry(&stubJob{name: "outbox-backlog"}, &stubJob{name: "outbox-backlog"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	registry := mustRegistry(t)
	if err := registry.Register(&stubJob{name: "  "}); err == nil {
		t.Fatal("expected blank name error")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected nil job error")
	}
}
