// Package session tracks one live agent session per owner.
//
// A Registry maps owner keys to Session entities, each bound to its own
// workspace. Structural changes for one owner are serialized by a per-key
// lifecycle lock; executions on one session are serialized by the session's
// execution lock. A Sweeper evicts sessions that stay idle too long.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aki/agentd/internal/core/agent"
)

// Session is one owner's live agent session.
type Session struct {
	id            string
	owner         string
	workspacePath string
	createdAt     time.Time

	// exec admits one execution at a time. Waiters are served in FIFO order.
	exec *semaphore.Weighted

	mu             sync.Mutex
	lastActiveAt   time.Time
	cumulativeCost float64
	taskCount      int
	conn           agent.Connection
	retired        bool
}

// Info is a point-in-time copy of a session's state.
type Info struct {
	ID             string    `json:"session_id"`
	OwnerKey       string    `json:"owner_key"`
	WorkspacePath  string    `json:"workspace_path"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
	CumulativeCost float64   `json:"cumulative_cost_usd"`
	TaskCount      int       `json:"task_count"`
	Connected      bool      `json:"connected"`
}

func newSession(id, owner, path string, createdAt time.Time) *Session {
	return &Session{
		id:            id,
		owner:         owner,
		workspacePath: path,
		createdAt:     createdAt,
		lastActiveAt:  createdAt,
		exec:          semaphore.NewWeighted(1),
	}
}

// ID returns the session id, which is also the workspace directory name.
func (s *Session) ID() string { return s.id }

// OwnerKey returns the identity the session belongs to.
func (s *Session) OwnerKey() string { return s.owner }

// WorkspacePath returns the absolute workspace directory.
func (s *Session) WorkspacePath() string { return s.workspacePath }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActiveAt returns the time the last execution started.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// CumulativeCost returns the total reported cost in USD.
func (s *Session) CumulativeCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulativeCost
}

// TaskCount returns the number of dispatched executions.
func (s *Session) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskCount
}

// Connected reports whether an agent connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.id,
		OwnerKey:       s.owner,
		WorkspacePath:  s.workspacePath,
		CreatedAt:      s.createdAt,
		LastActiveAt:   s.lastActiveAt,
		CumulativeCost: s.cumulativeCost,
		TaskCount:      s.taskCount,
		Connected:      s.conn != nil,
	}
}

// Acquire waits for the execution lock. It returns ctx.Err() if ctx ends first.
func (s *Session) Acquire(ctx context.Context) error {
	return s.exec.Acquire(ctx, 1)
}

// TryAcquire takes the execution lock only if it is free.
func (s *Session) TryAcquire() bool {
	return s.exec.TryAcquire(1)
}

// Release frees the execution lock.
func (s *Session) Release() {
	s.exec.Release(1)
}

// Touch records activity at t. The timestamp never moves backwards.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.lastActiveAt) {
		s.lastActiveAt = t
	}
}

// Record adds the cost of one dispatched execution.
// The caller must hold the execution lock.
func (s *Session) Record(cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumulativeCost += cost
	s.taskCount++
}

// Connection returns the open agent connection, or nil.
func (s *Session) Connection() agent.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// SetConnection stores a newly opened connection.
// The caller must hold the execution lock.
func (s *Session) SetConnection(c agent.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
}

// Retired reports whether the session was torn down. A retired session
// accepts no further executions.
func (s *Session) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// retire marks the session dead and detaches its connection.
func (s *Session) retire() agent.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
	c := s.conn
	s.conn = nil
	return c
}
