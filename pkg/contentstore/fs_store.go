package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore is a filesystem-backed implementation of Store. The layout is
// <baseDir>/<scope>/<directory>/<file>, with scopes "global" and
// "bots/<botID>".
type FileStore struct {
	baseDir string
}

// NewFileStore creates a content store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure content dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) List(ctx context.Context, scope Scope, directory, pattern string, excludes []string) ([]string, error) {
	root := filepath.Join(s.baseDir, filepath.FromSlash(string(scope)), directory)

	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matches(rel, pattern, excludes) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s/%s: %w", scope, directory, err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) ReadString(ctx context.Context, scope Scope, directory, filename string) (string, error) {
	// Reject traversal in filename before touching the filesystem.
	clean := filepath.ToSlash(filepath.Clean(filename))
	if strings.HasPrefix(clean, "../") || filepath.IsAbs(filename) {
		return "", fmt.Errorf("read %s/%s/%s: %w", scope, directory, filename, ErrNotFound)
	}

	p := filepath.Join(s.baseDir, filepath.FromSlash(string(scope)), directory, filepath.FromSlash(clean))
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s/%s/%s: %w", scope, directory, filename, ErrNotFound)
		}
		return "", fmt.Errorf("read %s/%s/%s: %w", scope, directory, filename, err)
	}
	return string(data), nil
}

// WriteString stores text content, creating parent directories as needed.
// The core never writes scripts; this exists for tooling and tests.
func (s *FileStore) WriteString(ctx context.Context, scope Scope, directory, filename, content string) error {
	p := filepath.Join(s.baseDir, filepath.FromSlash(string(scope)), directory, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s/%s/%s: %w", scope, directory, filename, err)
	}
	return nil
}
