package remotefs

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/portside-io/portside/backend/internal/terminal"
)

// Service exposes the file operations of one session. All paths are remote
// POSIX paths; callers normalize slashes before handing them in.
type Service struct {
	fs     FS
	runner terminal.Runner

	mu      sync.Mutex
	uploads map[string]*upload
}

// New wraps an open FS. The runner executes shell commands on the same host
// and may be nil when recursive deletes are not needed (tests, read-only use).
func New(fs FS, runner terminal.Runner) *Service {
	return &Service{
		fs:      fs,
		runner:  runner,
		uploads: make(map[string]*upload),
	}
}

// Close shuts the SFTP subchannel. Upload streams are aborted separately via
// AbortUploads so the session can order its teardown.
func (s *Service) Close() error {
	return s.fs.Close()
}

// ReadDir lists a directory in server order.
func (s *Service) ReadDir(dir string) ([]Entry, error) {
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sftp: readdir %q: %w", dir, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, newEntry(fi.Name(), fi))
	}
	return entries, nil
}

// Stat resolves one path without following symlinks, so a dangling link
// still produces an entry.
func (s *Service) Stat(p string) (Entry, error) {
	fi, err := s.fs.Lstat(p)
	if err != nil {
		return Entry{}, fmt.Errorf("sftp: stat %q: %w", p, err)
	}
	return newEntry(path.Base(p), fi), nil
}

// RealPath canonicalizes a path on the server.
func (s *Service) RealPath(p string) (string, error) {
	resolved, err := s.fs.RealPath(p)
	if err != nil {
		return "", fmt.Errorf("sftp: realpath %q: %w", p, err)
	}
	return resolved, nil
}

// Mkdir creates a single directory level and returns its fresh entry, or nil
// when the follow-up stat fails.
func (s *Service) Mkdir(dir string) (*Entry, error) {
	if err := s.fs.Mkdir(dir); err != nil {
		return nil, fmt.Errorf("sftp: mkdir %q: %w", dir, err)
	}
	return s.refresh(dir), nil
}

// Unlink removes one file or symlink.
func (s *Service) Unlink(p string) error {
	if err := s.fs.Remove(p); err != nil {
		return fmt.Errorf("sftp: unlink %q: %w", p, err)
	}
	return nil
}

// Rename moves oldPath to newPath and returns the fresh entry of the target.
func (s *Service) Rename(oldPath, newPath string) (*Entry, error) {
	if err := s.fs.Rename(oldPath, newPath); err != nil {
		return nil, fmt.Errorf("sftp: rename %q -> %q: %w", oldPath, newPath, err)
	}
	return s.refresh(newPath), nil
}

// Chmod applies a raw POSIX permission word and returns the fresh entry.
func (s *Service) Chmod(p string, mode uint32) (*Entry, error) {
	if err := s.fs.Chmod(p, os.FileMode(mode&0o7777)); err != nil {
		return nil, fmt.Errorf("sftp: chmod %q: %w", p, err)
	}
	return s.refresh(p), nil
}

// WriteFile replaces the file at p with content and returns its fresh entry.
func (s *Service) WriteFile(p string, content []byte) (*Entry, error) {
	f, err := s.fs.Create(p)
	if err != nil {
		return nil, fmt.Errorf("sftp: writefile %q: %w", p, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, fmt.Errorf("sftp: writefile %q: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("sftp: writefile %q: %w", p, err)
	}
	return s.refresh(p), nil
}

// RemoveAll deletes a directory tree. SFTP rmdir only removes empty
// directories, so this shells out on the session's own host.
func (s *Service) RemoveAll(ctx context.Context, dir string) error {
	if s.runner == nil {
		return fmt.Errorf("sftp: rmdir %q: no command runner on this session", dir)
	}
	quoted := strings.ReplaceAll(dir, `"`, `\"`)
	res, err := s.runner.Run(ctx, fmt.Sprintf(`rm -rf "%s"`, quoted))
	if err != nil {
		return fmt.Errorf("sftp: rmdir %q: %w", dir, err)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return fmt.Errorf("sftp: rmdir %q: %s", dir, msg)
	}
	return nil
}

// EnsureDir is mkdir -p. An existing directory is fine; an existing
// non-directory at any level is an error.
func (s *Service) EnsureDir(dir string) error {
	if fi, err := s.fs.Lstat(dir); err == nil {
		if fi.IsDir() {
			return nil
		}
		return fmt.Errorf("sftp: mkdir %q: path exists and is not a directory", dir)
	}
	if err := s.fs.MkdirAll(dir); err == nil {
		return nil
	}
	// Some servers reject the batched form. Walk the levels by hand.
	levels := strings.Split(path.Clean(dir), "/")
	built := ""
	for _, level := range levels {
		if level == "" {
			built = "/"
			continue
		}
		built = path.Join(built, level)
		fi, err := s.fs.Lstat(built)
		if err == nil {
			if fi.IsDir() {
				continue
			}
			return fmt.Errorf("sftp: mkdir %q: %q exists and is not a directory", dir, built)
		}
		if err := s.fs.Mkdir(built); err != nil {
			return fmt.Errorf("sftp: mkdir %q: %w", dir, err)
		}
	}
	return nil
}

// refresh re-stats a just-mutated path. Callers report success either way, so
// a failed stat degrades to a nil entry instead of an error.
func (s *Service) refresh(p string) *Entry {
	fi, err := s.fs.Lstat(p)
	if err != nil {
		return nil
	}
	e := newEntry(path.Base(p), fi)
	return &e
}
