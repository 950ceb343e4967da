// Package sweeper runs the expired-survey sweep on an interval.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/timebank/internal/exchange"
)

// Sweeper settles records whose survey window has passed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (exchange.SweepResult, error)
}

// Scheduler periodically runs the sweep. Runs triggered while one is in
// flight share its result.
type Scheduler struct {
	mu       sync.RWMutex
	sweeper  Sweeper
	interval time.Duration
	onRun    []func(exchange.SweepResult)
	logger   *slog.Logger
	group    singleflight.Group
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Scheduler. Each onRun hook is called after every completed
// run, scheduled or manual.
func New(sw Sweeper, interval time.Duration, logger *slog.Logger, onRun ...func(exchange.SweepResult)) *Scheduler {
	return &Scheduler{
		sweeper:  sw,
		interval: interval,
		onRun:    onRun,
		logger:   logger,
	}
}

// Start runs a sweep immediately and then on every interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce sweeps now and returns the result. Callers joining an in-flight
// run share it, so the run outlives the cancellation of whoever started it.
func (s *Scheduler) RunOnce(ctx context.Context) (exchange.SweepResult, error) {
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do("sweep", func() (any, error) {
		res, err := s.sweeper.SweepExpired(runCtx)
		if err != nil {
			return res, err
		}
		for _, fn := range s.onRun {
			fn(res)
		}
		return res, nil
	})
	if shared {
		s.logger.Debug("sweep joined in-flight run")
	}
	return v.(exchange.SweepResult), err
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled sweep failed", "error", err)
	}
}
