// Package task runs independently cancellable units under one shutdown signal.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrShutdownTimeout is returned when units outlive the grace period after
// cancellation.
var ErrShutdownTimeout = errors.New("shutdown grace period exceeded")

const defaultGrace = 10 * time.Second

// Unit is one long-running component. Run must return promptly once ctx is
// cancelled, and return nil for a clean stop.
type Unit interface {
	Name() string
	Run(ctx context.Context) error
}

// Policy decides what a unit failure does to its siblings.
type Policy int

const (
	// BestEffort lets the remaining units keep running after a failure.
	BestEffort Policy = iota
	// FailFast cancels every unit on the first failure.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "best-effort"
}

// Supervisor runs units concurrently under one shared cancellation.
type Supervisor struct {
	policy Policy
	grace  time.Duration
	logger *zap.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPolicy sets how a unit failure affects its siblings. The default is
// BestEffort.
func WithPolicy(p Policy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithShutdownGrace bounds the wait for units after cancellation.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// NewSupervisor returns a BestEffort supervisor with the default grace period.
// A nil logger discards output.
func NewSupervisor(logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{policy: BestEffort, grace: defaultGrace, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts every unit and blocks until all have returned, or until
// shutdown fires (or ctx ends) and the grace period elapses. It returns nil
// only if every unit stopped cleanly, otherwise the first failure wrapped
// with the unit's name.
func (s *Supervisor) Run(ctx context.Context, units []Unit, shutdown <-chan struct{}) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		g       errgroup.Group
		running atomic.Int32
	)
	for _, unit := range units {
		running.Add(1)
		g.Go(func() error {
			defer running.Add(-1)
			return s.runUnit(runCtx, cancel, unit)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	s.logger.Info("supervisor started", zap.Int("units", len(units)), zap.Stringer("policy", s.policy))

	select {
	case err := <-done:
		return err
	case <-shutdown:
		s.logger.Info("shutdown requested")
		cancel()
	case <-runCtx.Done():
		if ctx.Err() != nil {
			s.logger.Info("shutdown requested", zap.Error(ctx.Err()))
		}
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		n := running.Load()
		s.logger.Error("units did not stop within grace period",
			zap.Duration("grace", s.grace),
			zap.Int32("running", n),
		)
		return fmt.Errorf("%w: %d unit(s) still running after %s", ErrShutdownTimeout, n, s.grace)
	}
}

func (s *Supervisor) runUnit(ctx context.Context, cancel context.CancelFunc, unit Unit) error {
	logger := s.logger.With(
		zap.String("unit", unit.Name()),
		zap.String("run_id", uuid.NewString()),
	)
	logger.Info("unit started")

	if err := unit.Run(ctx); err != nil {
		logger.Error("unit failed", zap.Error(err))
		if s.policy == FailFast {
			cancel()
		}
		return fmt.Errorf("unit %s: %w", unit.Name(), err)
	}

	logger.Info("unit stopped")
	return nil
}
