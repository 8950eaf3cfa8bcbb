package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Local stores objects as files below a root directory. An empty root
// resolves paths against the working directory.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) path(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(p))
}

func (l *Local) Write(ctx context.Context, p string, data io.Reader) error {
	w, err := l.Create(ctx, p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return w.Close()
}

func (l *Local) Read(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(p))
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

func (l *Local) Create(_ context.Context, p string) (io.WriteCloser, error) {
	full := l.path(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	return f, nil
}

func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	base := l.path(prefix)
	var files []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := p
		if l.root != "" {
			if rel, err = filepath.Rel(l.root, p); err != nil {
				return err
			}
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Stat(l.path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file: %w", err)
	}
	return true, nil
}

func (l *Local) Delete(_ context.Context, p string) error {
	if err := os.RemoveAll(l.path(p)); err != nil {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	return nil
}
