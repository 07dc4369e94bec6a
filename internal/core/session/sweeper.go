package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aki/agentd/internal/core/logger"
)

const (
	defaultSweepParallelism = 4
	defaultStarvationTicks  = 3
)

// SweepReport lists what one sweep did, by session id.
type SweepReport struct {
	Evicted []string
	// Skipped sessions were busy and are retried next tick
	Skipped []string
	Failed  []string
	// Starved sessions have been skipped on at least the starvation threshold of consecutive ticks
	Starved []string
}

// Sweeper periodically evicts sessions idle longer than the expiry.
//
// A session whose execution lock is held is skipped and re-evaluated on the
// next tick. A session that is always busy is never evicted; such sessions
// are reported as starved once their consecutive skips reach the threshold.
type Sweeper struct {
	registry    *Registry
	maxIdle     time.Duration
	interval    time.Duration
	starvation  int
	parallelism int
	logger      logger.Logger

	mu    sync.Mutex
	skips map[string]int
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(l logger.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = l
	}
}

// WithStarvationTicks sets how many consecutive skips flag a session as starved.
func WithStarvationTicks(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.starvation = n
		}
	}
}

// WithParallelism bounds concurrent evictions per sweep.
func WithParallelism(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewSweeper creates a Sweeper evicting sessions of registry idle longer than maxIdle.
func NewSweeper(registry *Registry, maxIdle, interval time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registry:    registry,
		maxIdle:     maxIdle,
		interval:    interval,
		starvation:  defaultStarvationTicks,
		parallelism: defaultSweepParallelism,
		logger:      logger.Nop(),
		skips:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval, "max_idle", s.maxIdle)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			report := s.Sweep(ctx)
			if len(report.Evicted)+len(report.Failed) > 0 {
				s.logger.Info("sweep finished",
					"evicted", len(report.Evicted),
					"skipped", len(report.Skipped),
					"failed", len(report.Failed))
			}
		}
	}
}

// Sweep runs one eviction pass. Failures are logged and reported, never returned.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	now := s.registry.Now()
	sessions := s.registry.Snapshot()

	var (
		mu     sync.Mutex
		report SweepReport
	)
	live := make(map[string]bool, len(sessions))

	g := new(errgroup.Group)
	g.SetLimit(s.parallelism)

	for _, sess := range sessions {
		live[sess.ID()] = true
		if now.Sub(sess.LastActiveAt()) <= s.maxIdle {
			s.resetSkips(sess.ID())
			continue
		}
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			evicted, err := s.registry.EvictIdle(sess.OwnerKey(), sess.ID(), s.maxIdle)

			mu.Lock()
			defer mu.Unlock()

			var busy ErrSessionBusy
			switch {
			case errors.As(err, &busy):
				report.Skipped = append(report.Skipped, sess.ID())
				if s.recordSkip(sess.ID()) {
					report.Starved = append(report.Starved, sess.ID())
				}
			case err != nil:
				s.logger.Error("failed to evict session", "session_id", sess.ID(), "owner", sess.OwnerKey(), "error", err)
				s.resetSkips(sess.ID())
				if evicted {
					report.Evicted = append(report.Evicted, sess.ID())
				}
				report.Failed = append(report.Failed, sess.ID())
			case evicted:
				s.resetSkips(sess.ID())
				report.Evicted = append(report.Evicted, sess.ID())
			}
			return nil
		})
	}
	_ = g.Wait()

	s.forgetDead(live, report.Evicted)
	return report
}

// recordSkip counts a busy skip and reports whether the session just reached
// or stays past the starvation threshold.
func (s *Sweeper) recordSkip(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips[id]++
	n := s.skips[id]
	if n >= s.starvation {
		s.logger.Warn("session eviction repeatedly deferred by running execution",
			"session_id", id, "consecutive_skips", n)
		return true
	}
	return false
}

func (s *Sweeper) resetSkips(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.skips, id)
}

func (s *Sweeper) forgetDead(live map[string]bool, evicted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.skips {
		if !live[id] {
			delete(s.skips, id)
		}
	}
	for _, id := range evicted {
		delete(s.skips, id)
	}
}
