package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

// BetCloser closes bets whose tail window has passed.
type BetCloser interface {
	CloseExpiredBets(ctx context.Context) ([]*store.Bet, error)
}

// Snapshotter writes analytics figures to the cache table.
type Snapshotter interface {
	Snapshot(ctx context.Context, challengeID *uuid.UUID) ([]*store.AnalyticsCacheEntry, error)
}

// Sweeper runs periodic maintenance. Recording and ranking never depend on it:
// an open bet past its window already earns nothing.
type Sweeper struct {
	closer   BetCloser
	snap     Snapshotter
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a sweeper. A nil snapshotter skips the analytics pass.
func New(closer BetCloser, snap Snapshotter, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		closer:   closer,
		snap:     snap,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Failures are logged and retried next tick.
func (s *Sweeper) RunOnce(ctx context.Context) {
	closed, err := s.closer.CloseExpiredBets(ctx)
	if err != nil {
		s.logger.Error("failed to close expired bets", "error", err)
	} else if len(closed) > 0 {
		s.logger.Info("sweep closed bets", "count", len(closed))
	}

	if s.snap == nil {
		return
	}
	if _, err := s.snap.Snapshot(ctx, nil); err != nil {
		s.logger.Error("failed to snapshot analytics", "error", err)
	}
}
