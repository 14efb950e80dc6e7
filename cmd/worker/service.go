package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/heuristiclogix/eventrelay/api/controllers"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

const readinessPoll = time.Second

type transport interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	Transport transport
	// Checks must all pass before the transport starts. They are the same
	// probes the ops server answers /health/ready with.
	Checks []controllers.ReadinessCheck
	// StartupWait keeps re-probing failed checks for this long; zero means
	// a single attempt.
	StartupWait time.Duration
}

// Service gates the enrichment transport behind its dependency checks.
type Service struct {
	logg      *logger.Logger
	transport transport
	checks    []controllers.ReadinessCheck
	wait      time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.Transport == nil:
		return nil, errors.New("transport is required")
	case len(p.Checks) == 0:
		return nil, errors.New("at least one readiness check is required")
	}
	return &Service{logg: p.Logger, transport: p.Transport, checks: p.Checks, wait: p.StartupWait}, nil
}

// probe runs every check once and returns the combined failures.
func (s *Service) probe(ctx context.Context) error {
	var err error
	for _, check := range s.checks {
		if check.Check == nil {
			continue
		}
		if cerr := check.Check(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", check.Name, cerr))
		}
	}
	return err
}

func (s *Service) awaitDependencies(ctx context.Context) error {
	deadline := time.Now().Add(s.wait)
	for attempt := 1; ; attempt++ {
		err := s.probe(ctx)
		if err == nil {
			s.logg.Info(s.logg.WithField(ctx, "attempts", attempt), "all worker dependencies are ready")
			return nil
		}
		if !time.Now().Before(deadline) {
			s.logg.Error(ctx, "worker dependencies not ready", err)
			return fmt.Errorf("dependencies not ready: %w", err)
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "waiting for worker dependencies")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessPoll):
		}
	}
}

// Run blocks until ctx is canceled or the transport stops on its own. On
// cancel it waits for the transport to settle its in-flight delivery.
func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitDependencies(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.transport.Run(ctx) }()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "enrichment transport stopped unexpectedly", err)
		}
		return err
	}
}
