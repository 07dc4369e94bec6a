package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aki/agentd/internal/core/logger"
	"github.com/aki/agentd/internal/core/workspace"
)

// Registry owns every live session, keyed by owner.
type Registry struct {
	store  *workspace.Store
	logger logger.Logger
	now    func() time.Time
	expiry time.Duration
	newID  func() string
	// removeWorkspace deletes a session directory; replaced in tests
	removeWorkspace func(path string) error

	locks *keyLocks

	mu       sync.RWMutex
	byOwner  map[string]*Session
	byID     map[string]*Session
	isClosed bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithExpiry sets the idle expiry reported by Status.
func WithExpiry(d time.Duration) Option {
	return func(r *Registry) {
		r.expiry = d
	}
}

// NewRegistry creates a Registry whose sessions live in store.
func NewRegistry(store *workspace.Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		logger:  logger.Nop(),
		now:     time.Now,
		newID:   uuid.NewString,
		locks:   newKeyLocks(),
		byOwner: make(map[string]*Session),
		byID:    make(map[string]*Session),
	}
	r.removeWorkspace = store.Remove
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the workspace store sessions live in.
func (r *Registry) Store() *workspace.Store {
	return r.store
}

// Expiry returns the configured idle expiry.
func (r *Registry) Expiry() time.Duration {
	return r.expiry
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// GetOrCreate returns the live session for owner, creating it on first use.
// Concurrent callers for the same owner always receive the same session.
func (r *Registry) GetOrCreate(ctx context.Context, owner string) (*Session, error) {
	if owner == "" {
		return nil, ErrInvalidOwner{}
	}

	if s := r.lookup(owner); s != nil && r.store.Exists(s.WorkspacePath()) {
		return s, nil
	}

	unlock, err := r.locks.Lock(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	if s := r.lookup(owner); s != nil {
		if !r.store.Exists(s.WorkspacePath()) {
			r.logger.Warn("workspace missing, recreating", "session_id", s.ID(), "workspace", s.WorkspacePath())
			if _, err := r.store.Create(ctx, s.ID(), owner, s.CreatedAt()); err != nil {
				return nil, err
			}
		}
		return s, nil
	}

	return r.create(ctx, owner)
}

// Reset replaces owner's session with a fresh one. It waits for the current
// execution to finish; executions queued behind it fail with ErrNotFound.
func (r *Registry) Reset(ctx context.Context, owner string) (*Session, error) {
	if owner == "" {
		return nil, ErrInvalidOwner{}
	}

	unlock, err := r.locks.Lock(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	if old := r.lookup(owner); old != nil {
		if err := old.Acquire(ctx); err != nil {
			return nil, err
		}
		if err := r.teardown(old); err != nil {
			// The old entity is gone either way; a stale directory is pruned later.
			r.logger.Warn("failed to remove old workspace", "session_id", old.ID(), "error", err)
		}
		r.logger.Info("session reset", "owner", owner, "old_session_id", old.ID())
	}

	return r.create(ctx, owner)
}

// Remove tears down owner's session. It reports whether a session existed.
func (r *Registry) Remove(ctx context.Context, owner string) (bool, error) {
	unlock, err := r.locks.Lock(ctx, owner)
	if err != nil {
		return false, err
	}
	defer unlock()

	s := r.lookup(owner)
	if s == nil {
		return false, nil
	}
	if err := s.Acquire(ctx); err != nil {
		return false, err
	}
	return true, r.teardown(s)
}

// EvictIdle removes session id of owner if it has been idle longer than
// maxIdle. It never blocks: a held lifecycle or execution lock yields
// ErrSessionBusy. The entity is dropped even when deleting the workspace fails.
func (r *Registry) EvictIdle(owner, id string, maxIdle time.Duration) (bool, error) {
	unlock, ok := r.locks.TryLock(owner)
	if !ok {
		return false, ErrSessionBusy{Key: owner}
	}
	defer unlock()

	s := r.lookup(owner)
	if s == nil || s.ID() != id {
		return false, nil
	}
	if !s.TryAcquire() {
		return false, ErrSessionBusy{Key: owner}
	}
	if r.now().Sub(s.LastActiveAt()) <= maxIdle {
		s.Release()
		return false, nil
	}

	r.logger.Info("evicting idle session", "session_id", id, "owner", owner, "idle", r.now().Sub(s.LastActiveAt()).Round(time.Second))
	return true, r.teardown(s)
}

// Snapshot returns the live sessions ordered by creation time.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byOwner))
	for _, s := range r.byOwner {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner)
}

// Lookup returns owner's live session.
func (r *Registry) Lookup(owner string) (*Session, error) {
	if s := r.lookup(owner); s != nil {
		return s, nil
	}
	return nil, ErrNotFound{Key: owner}
}

// LookupID returns the live session with the given id.
func (r *Registry) LookupID(id string) (*Session, error) {
	r.mu.RLock()
	s := r.byID[id]
	r.mu.RUnlock()
	if s == nil {
		return nil, ErrNotFound{Key: id}
	}
	return s, nil
}

// Status reports usage and accounting for owner's session.
func (r *Registry) Status(owner string) (Status, error) {
	s, err := r.Lookup(owner)
	if err != nil {
		return Status{}, err
	}
	return r.status(s)
}

func (r *Registry) status(s *Session) (Status, error) {
	usage, err := r.store.Usage(s.WorkspacePath())
	if err != nil {
		return Status{}, err
	}

	info := s.Info()
	st := Status{
		Info:          info,
		WorkspaceSize: usage.Bytes,
		FileCount:     usage.Files,
		Quota:         r.store.Quota(),
	}
	if r.expiry > 0 {
		st.ExpiresIn = max(r.expiry-r.now().Sub(info.LastActiveAt), 0)
	}
	return st, nil
}

// Cleanup deletes everything in owner's workspace except the reserved
// configuration entries. It waits for any running execution.
func (r *Registry) Cleanup(ctx context.Context, owner string) (int64, error) {
	s, err := r.Lookup(owner)
	if err != nil {
		return 0, err
	}
	if err := s.Acquire(ctx); err != nil {
		return 0, err
	}
	defer s.Release()

	if s.Retired() {
		return 0, ErrNotFound{Key: owner}
	}
	return r.store.Clean(s.WorkspacePath())
}

// Close drains the registry. Each session's running execution gets until ctx
// ends to finish; connections are then closed regardless. Workspaces stay on
// disk.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.isClosed {
		r.mu.Unlock()
		return nil
	}
	r.isClosed = true
	sessions := make([]*Session, 0, len(r.byOwner))
	for _, s := range r.byOwner {
		sessions = append(sessions, s)
	}
	r.byOwner = make(map[string]*Session)
	r.byID = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		acquired := s.Acquire(ctx) == nil
		if !acquired {
			r.logger.Warn("closing session with execution in flight", "session_id", s.ID())
		}
		if conn := s.retire(); conn != nil {
			if err := conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close connection of session %s: %w", s.ID(), err))
			}
		}
		if acquired {
			s.Release()
		}
	}

	r.logger.Info("session registry closed", "sessions", len(sessions))
	return errors.Join(errs...)
}

func (r *Registry) lookup(owner string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byOwner[owner]
}

func (r *Registry) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.isClosed {
		return ErrRegistryClosed
	}
	return nil
}

// create builds and registers a new session. The caller holds owner's key lock.
func (r *Registry) create(ctx context.Context, owner string) (*Session, error) {
	id := r.newID()
	now := r.now()

	path, err := r.store.Create(ctx, id, owner, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	s := newSession(id, owner, path, now)

	r.mu.Lock()
	r.byOwner[owner] = s
	r.byID[id] = s
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", id, "owner", owner, "workspace", path)
	return s, nil
}

// teardown retires s, closes its connection and deletes its workspace, then
// releases the execution lock. The caller holds the key lock and the
// execution lock.
func (r *Registry) teardown(s *Session) error {
	defer s.Release()

	conn := s.retire()

	r.mu.Lock()
	if r.byOwner[s.OwnerKey()] == s {
		delete(r.byOwner, s.OwnerKey())
	}
	delete(r.byID, s.ID())
	r.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Warn("failed to close agent connection", "session_id", s.ID(), "error", err)
		}
	}

	if err := r.removeWorkspace(s.WorkspacePath()); err != nil {
		return err
	}
	r.logger.Debug("session removed", "session_id", s.ID(), "owner", s.OwnerKey())
	return nil
}
