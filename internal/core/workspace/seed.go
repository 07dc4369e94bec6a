package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	git "github.com/go-git/go-git/v5"
)

const memoryTemplate = `# Session Workspace

This directory is the private workspace of one agent session.

- Session: %s
- Created: %s
- Size limit: %s
- Expires after: %s of inactivity

Keep files inside this directory. Everything except .claude/ and CLAUDE.md
may be removed by a cleanup.
`

// seedWorkspace creates the reserved subtree and copies plugin assets.
// Existing files are left untouched.
func (s *Store) seedWorkspace(path, id string, createdAt time.Time) error {
	for _, dir := range seededDirs {
		p := filepath.Join(path, ConfigDir, dir)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return ErrWorkspaceIO{Op: "seed", Path: p, Err: err}
		}
	}

	memPath := filepath.Join(path, MemoryFile)
	if _, err := os.Stat(memPath); os.IsNotExist(err) {
		limit := "unlimited"
		if s.seed.QuotaBytes > 0 {
			limit = humanize.IBytes(uint64(s.seed.QuotaBytes))
		}
		expiry := "never"
		if s.seed.Expiry > 0 {
			expiry = s.seed.Expiry.String()
		}
		content := fmt.Sprintf(memoryTemplate, id, createdAt.UTC().Format(time.RFC3339), limit, expiry)
		if err := os.WriteFile(memPath, []byte(content), 0o644); err != nil {
			return ErrWorkspaceIO{Op: "seed", Path: memPath, Err: err}
		}
	}

	if s.seed.PluginPath != "" {
		for _, dir := range seededDirs {
			src := filepath.Join(s.seed.PluginPath, dir)
			dst := filepath.Join(path, ConfigDir, dir)
			if err := copyTree(src, dst); err != nil {
				// Missing plugin assets are not fatal for the session.
				s.logger.Warn("failed to copy plugin assets", "source", src, "error", err)
			}
		}
	}

	if s.seed.GitInit {
		if _, err := git.PlainInit(path, false); err != nil && !errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return ErrWorkspaceIO{Op: "git init", Path: path, Err: err}
		}
	}
	return nil
}

// copyTree copies regular files from src into dst without overwriting.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
