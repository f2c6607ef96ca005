package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mailroomd/mailroom/internal/observability"
	"github.com/mailroomd/mailroom/internal/store"
	"go.uber.org/zap"
)

const (
	defaultPollInterval      = 20 * time.Second
	defaultClaimTimeout      = 2 * time.Minute
	defaultStaleReleaseLimit = 100
)

var ErrSupervisorRunning = errors.New("supervisor is already running")

// cycleRunner is what the Supervisor drives once per tick.
type cycleRunner interface {
	RunCycle(ctx context.Context) (int, error)
}

// Supervisor owns the dispatch schedule. It runs one cycle immediately at
// startup, then re-arms the timer only after a cycle fully completes, so
// cycles can never overlap no matter how long one runs. Steady-state errors
// are logged and the next tick retries; nothing here terminates the process.
type Supervisor struct {
	runner       cycleRunner
	store        store.Store
	logger       *zap.Logger
	metrics      *observability.Metrics
	interval     time.Duration
	claimTimeout time.Duration

	now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	runMu    sync.Mutex
	running  bool
}

func NewSupervisor(
	runner cycleRunner,
	st store.Store,
	interval time.Duration,
	claimTimeout time.Duration,
	logger *zap.Logger,
) (*Supervisor, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if claimTimeout <= 0 {
		claimTimeout = defaultClaimTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Supervisor{
		runner:       runner,
		store:        st,
		logger:       logger,
		interval:     interval,
		claimTimeout: claimTimeout,
		now:          time.Now,
		stop:         make(chan struct{}),
	}, nil
}

func (s *Supervisor) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start blocks until Stop is called or ctx is cancelled. The first cycle runs
// immediately so a fresh backlog does not wait a full period.
func (s *Supervisor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.markRunning() {
		return ErrSupervisorRunning
	}
	defer s.clearRunning()

	s.logger.Info("dispatch supervisor started", zap.Duration("interval", s.interval))
	defer s.logger.Info("dispatch supervisor stopped")

	for {
		s.runOnce(ctx)

		// Re-armed only after the cycle finished: slow cycles stretch the
		// effective period instead of stacking concurrent cycles.
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Stop signals the loop to exit after the in-flight cycle completes. Safe to
// call more than once.
func (s *Supervisor) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Supervisor) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch cycle panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	s.reapStaleClaims(ctx)

	start := s.now()
	considered, err := s.runner.RunCycle(ctx)
	elapsed := s.now().Sub(start)

	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("dispatch cycle failed", zap.Error(err))
		}
		s.metrics.IncCycle("error", elapsed)
		return
	}

	s.metrics.IncCycle("ok", elapsed)
	if considered > 0 {
		s.logger.Info("dispatch cycle complete",
			zap.Int("considered", considered),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// reapStaleClaims reverts records stuck in_progress longer than the claim
// timeout, e.g. after a crash between claim and outcome write.
func (s *Supervisor) reapStaleClaims(ctx context.Context) {
	cutoff := s.now().Add(-s.claimTimeout)
	released, err := s.store.ReleaseStale(ctx, cutoff, defaultStaleReleaseLimit)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to release stale claims", zap.Error(err))
		}
		return
	}
	if released > 0 {
		s.metrics.AddStaleReleased(released)
		s.logger.Warn("released stale claims", zap.Int("count", released))
	}
}

func (s *Supervisor) markRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Supervisor) clearRunning() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.running = false
}
