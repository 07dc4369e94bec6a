// Package filemanager provides process-safe YAML document storage guarded by
// advisory file locks. Session manifests inside workspaces are written through it.
package filemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// ErrLockTimeout is returned when a file lock cannot be acquired in time.
var ErrLockTimeout = errors.New("timeout acquiring file lock")

const lockRetryDelay = 20 * time.Millisecond

// UpdateFunc modifies a document in place.
type UpdateFunc[T any] func(doc *T) error

// Manager reads and writes YAML documents of type T.
//
// Locks are taken on a sidecar "<path>.lock" file so the document itself can
// be replaced atomically by rename while the lock is held.
type Manager[T any] struct {
	lockTimeout time.Duration
}

// NewManager creates a Manager with a 5 second lock timeout.
func NewManager[T any]() *Manager[T] {
	return &Manager[T]{lockTimeout: 5 * time.Second}
}

// Read loads the document at path under a shared lock.
// A missing file returns an error satisfying os.IsNotExist.
func (m *Manager[T]) Read(ctx context.Context, path string) (*T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	unlock, err := m.lock(ctx, path, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return decode[T](path)
}

// Write replaces the document at path under an exclusive lock.
func (m *Manager[T]) Write(ctx context.Context, path string, doc *T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	unlock, err := m.lock(ctx, path, false)
	if err != nil {
		return err
	}
	defer unlock()

	return encode(path, doc)
}

// Update applies fn to the current document (or a zero document when the
// file does not exist yet) and writes the result, all under one exclusive lock.
func (m *Manager[T]) Update(ctx context.Context, path string, fn UpdateFunc[T]) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	unlock, err := m.lock(ctx, path, false)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := decode[T](path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		doc = new(T)
	}

	if err := fn(doc); err != nil {
		return fmt.Errorf("update function failed: %w", err)
	}

	return encode(path, doc)
}

func (m *Manager[T]) lock(ctx context.Context, path string, shared bool) (func(), error) {
	fl := flock.New(lockPath(path))

	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fl.TryRLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = fl.TryLockContext(lockCtx, lockRetryDelay)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", path, err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}

	return func() { _ = fl.Unlock() }, nil
}

func lockPath(path string) string {
	return path + ".lock"
}

func decode[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc T
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return &doc, nil
}

// encode writes doc to a temp file next to path and renames it into place.
func encode[T any](path string, doc *T) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal yaml: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
