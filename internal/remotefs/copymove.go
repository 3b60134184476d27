package remotefs

import (
	"fmt"
	"io"
	"log"
	"path"
	"strings"
)

// normalizePath folds Windows separators out of client-supplied paths and
// cleans the result. Empty stays empty so errors mention what was sent.
func normalizePath(p string) string {
	if p == "" {
		return p
	}
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// Copy copies every source into destDir, creating it first if needed.
// Directories recurse, regular files stream, anything else is skipped with a
// warning. The first failure stops the batch; earlier copies stay in place.
func (s *Service) Copy(sources []string, destDir string) ([]Entry, error) {
	destDir = normalizePath(destDir)
	if err := s.EnsureDir(destDir); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(sources))
	for _, raw := range sources {
		src := normalizePath(raw)
		dst := path.Join(destDir, path.Base(src))
		if src == dst {
			continue
		}
		fi, err := s.fs.Lstat(src)
		if err != nil {
			return nil, fmt.Errorf("sftp: copy %q: %w", src, err)
		}
		switch {
		case fi.IsDir():
			if err := s.copyDir(src, dst); err != nil {
				return nil, err
			}
		case fi.Mode().IsRegular():
			if err := s.copyFile(src, dst); err != nil {
				return nil, err
			}
		default:
			log.Printf("[sftp] copy: skipping %q: neither regular file nor directory", src)
			continue
		}
		if e := s.refresh(dst); e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

// Move renames every source into destDir. A source whose target path already
// exists fails rather than clobbering it, and the first failure stops the
// batch.
func (s *Service) Move(sources []string, destDir string) ([]Entry, error) {
	destDir = normalizePath(destDir)
	if err := s.EnsureDir(destDir); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(sources))
	for _, raw := range sources {
		src := normalizePath(raw)
		dst := path.Join(destDir, path.Base(src))
		if src == dst {
			continue
		}
		if _, err := s.fs.Lstat(dst); err == nil {
			return nil, fmt.Errorf("sftp: move %q: target already exists: %s", src, dst)
		}
		if err := s.fs.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("sftp: move %q -> %q: %w", src, dst, err)
		}
		if e := s.refresh(dst); e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

func (s *Service) copyDir(src, dst string) error {
	if err := s.EnsureDir(dst); err != nil {
		return err
	}
	infos, err := s.fs.ReadDir(src)
	if err != nil {
		return fmt.Errorf("sftp: copy %q: %w", src, err)
	}
	for _, fi := range infos {
		from := path.Join(src, fi.Name())
		to := path.Join(dst, fi.Name())
		switch {
		case fi.IsDir():
			if err := s.copyDir(from, to); err != nil {
				return err
			}
		case fi.Mode().IsRegular():
			if err := s.copyFile(from, to); err != nil {
				return err
			}
		default:
			log.Printf("[sftp] copy: skipping %q: neither regular file nor directory", from)
		}
	}
	return nil
}

// copyFile streams src into dst on the remote side. A failed copy removes the
// partial target so the browser never lists a truncated file.
func (s *Service) copyFile(src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("sftp: copy %q: %w", src, err)
	}
	defer in.Close()
	out, err := s.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("sftp: copy %q -> %q: %w", src, dst, err)
	}
	if _, err := io.CopyBuffer(out, in, make([]byte, 32*1024)); err != nil {
		out.Close()
		_ = s.fs.Remove(dst)
		return fmt.Errorf("sftp: copy %q -> %q: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		_ = s.fs.Remove(dst)
		return fmt.Errorf("sftp: copy %q -> %q: %w", src, dst, err)
	}
	return nil
}
