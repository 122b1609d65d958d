package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of recurring background work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// IntervalScheduler runs a job on a fixed interval. The first run happens one
// interval after Start, not immediately.
type IntervalScheduler struct {
	job      Job
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewIntervalScheduler creates a scheduler for the given job
func NewIntervalScheduler(job Job, interval time.Duration, logger *zap.Logger) *IntervalScheduler {
	return &IntervalScheduler{
		job:      job,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the scheduling loop. Calling Start twice is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info("scheduler started",
		zap.String("job", s.job.Name()),
		zap.Duration("interval", s.interval),
	)
}

// Stop cancels the loop and waits for an in-flight run to finish
func (s *IntervalScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped", zap.String("job", s.job.Name()))
}

func (s *IntervalScheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *IntervalScheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.job.Run(ctx); err != nil {
		s.logger.Error("scheduled job failed",
			zap.String("job", s.job.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("scheduled job finished",
		zap.String("job", s.job.Name()),
		zap.Duration("elapsed", time.Since(start)),
	)
}
