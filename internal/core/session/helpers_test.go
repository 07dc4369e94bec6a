package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aki/agentd/internal/core/workspace"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, clock *fakeClock, opts ...Option) *Registry {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir(), workspace.WithSeed(workspace.SeedOptions{
		QuotaBytes: 10 << 10,
		Expiry:     time.Hour,
	}))
	require.NoError(t, err)

	opts = append([]Option{WithClock(clock.Now), WithExpiry(time.Hour)}, opts...)
	return NewRegistry(store, opts...)
}
