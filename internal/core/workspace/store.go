// Package workspace manages the per-session directories agents work in.
//
// Every session owns exactly one directory under the store root, named after
// the session id. The reserved ".claude" subtree and "CLAUDE.md" survive
// cleanup; everything else belongs to the agent.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aki/agentd/internal/core/logger"
	"github.com/aki/agentd/internal/filemanager"
)

// Store creates, measures, cleans and removes workspace directories.
type Store struct {
	root      string
	seed      SeedOptions
	manifests *filemanager.Manager[Manifest]
	logger    logger.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithSeed sets what new workspaces are populated with.
func WithSeed(seed SeedOptions) Option {
	return func(s *Store) {
		s.seed = seed
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store rooted at root, creating the directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	s := &Store{
		root:      abs,
		manifests: filemanager.NewManager[Manifest](),
		logger:    logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, ErrWorkspaceIO{Op: "create", Path: abs, Err: err}
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// Quota returns the configured size limit in bytes. Zero means unlimited.
func (s *Store) Quota() int64 {
	return s.seed.QuotaBytes
}

// Path returns the workspace directory for a session id.
func (s *Store) Path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return ErrInvalidID{ID: id}
	}
	return nil
}

// Create ensures the workspace for id exists and carries the reserved subtree.
// It is idempotent: an existing workspace keeps its files and manifest.
func (s *Store) Create(ctx context.Context, id, owner string, createdAt time.Time) (string, error) {
	path, err := s.Path(id)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", ErrWorkspaceIO{Op: "create", Path: path, Err: err}
	}
	if err := s.seedWorkspace(path, id, createdAt); err != nil {
		return "", err
	}

	manifestPath := filepath.Join(path, ManifestFile)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		m := &Manifest{
			SessionID:    id,
			OwnerKey:     owner,
			CreatedAt:    createdAt,
			LastActiveAt: createdAt,
		}
		if err := s.manifests.Write(ctx, manifestPath, m); err != nil {
			return "", ErrWorkspaceIO{Op: "write manifest", Path: manifestPath, Err: err}
		}
	}

	s.logger.Debug("workspace ready", "workspace", path, "session_id", id)
	return path, nil
}

// Exists reports whether the workspace directory is present.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Usage sums the size of every regular file below path.
func (s *Store) Usage(path string) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files may vanish while the agent works; skip them.
			if errors.Is(err, fs.ErrNotExist) && p != path {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		u.Bytes += info.Size()
		u.Files++
		return nil
	})
	if err != nil {
		return Usage{}, ErrWorkspaceIO{Op: "measure", Path: path, Err: err}
	}
	return u, nil
}

// Size returns the total bytes used below path.
func (s *Store) Size(path string) (int64, error) {
	u, err := s.Usage(path)
	return u.Bytes, err
}

// Clean deletes everything in the workspace except the reserved entries and
// returns the number of bytes freed.
func (s *Store) Clean(path string) (int64, error) {
	before, err := s.Usage(path)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, ErrWorkspaceIO{Op: "clean", Path: path, Err: err}
	}

	var errs []error
	for _, e := range entries {
		if s.reserved(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	after, uerr := s.Usage(path)
	if uerr != nil {
		return 0, uerr
	}
	freed := before.Bytes - after.Bytes
	if len(errs) > 0 {
		return freed, ErrWorkspaceIO{Op: "clean", Path: path, Err: errors.Join(errs...)}
	}

	s.logger.Info("workspace cleaned", "workspace", path, "freed_bytes", freed)
	return freed, nil
}

func (s *Store) reserved(name string) bool {
	switch name {
	case ConfigDir, MemoryFile:
		return true
	case gitDir:
		return s.seed.GitInit
	}
	return false
}

// Remove deletes the workspace directory entirely. A missing directory is not an error.
func (s *Store) Remove(path string) error {
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return ErrWorkspaceIO{Op: "remove", Path: path, Err: fmt.Errorf("outside of root %s", s.root)}
	}
	if err := os.RemoveAll(path); err != nil {
		return ErrWorkspaceIO{Op: "remove", Path: path, Err: err}
	}
	s.logger.Debug("workspace removed", "workspace", path)
	return nil
}

// ReadManifest loads the manifest of a workspace.
func (s *Store) ReadManifest(ctx context.Context, path string) (*Manifest, error) {
	return s.manifests.Read(ctx, filepath.Join(path, ManifestFile))
}

// UpdateManifest applies fn to the workspace manifest under a file lock.
func (s *Store) UpdateManifest(ctx context.Context, path string, fn func(*Manifest)) error {
	manifestPath := filepath.Join(path, ManifestFile)
	err := s.manifests.Update(ctx, manifestPath, func(m *Manifest) error {
		fn(m)
		return nil
	})
	if err != nil {
		return ErrWorkspaceIO{Op: "write manifest", Path: manifestPath, Err: err}
	}
	return nil
}

// List returns every workspace directory under the root, oldest activity first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, ErrWorkspaceIO{Op: "list", Path: s.root, Err: err}
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.IsDir() || validateID(d.Name()) != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(s.root, d.Name())
		info, err := d.Info()
		if err != nil {
			continue
		}
		entry := Entry{
			ID:      d.Name(),
			Path:    path,
			ModTime: info.ModTime(),
		}
		if u, err := s.Usage(path); err == nil {
			entry.Usage = u
		}
		if m, err := s.ReadManifest(ctx, path); err == nil {
			entry.Manifest = m
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActive().Before(entries[j].LastActive())
	})
	return entries, nil
}

// Prune removes workspaces not kept by keep whose last activity is older than
// olderThan. A zero olderThan prunes regardless of age. It returns the removed entries.
func (s *Store) Prune(ctx context.Context, keep func(id string) bool, olderThan time.Duration) ([]Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		removed []Entry
		errs    []error
	)
	for _, e := range entries {
		if keep != nil && keep(e.ID) {
			continue
		}
		if olderThan > 0 && now.Sub(e.LastActive()) < olderThan {
			continue
		}
		if err := s.Remove(e.Path); err != nil {
			s.logger.Warn("failed to prune workspace", "workspace", e.Path, "error", err)
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e)
	}

	if len(removed) > 0 {
		s.logger.Info("pruned workspaces", "count", len(removed))
	}
	return removed, errors.Join(errs...)
}
