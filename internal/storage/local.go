package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Local stores images under <publicRoot>/<prefix> on the local filesystem.
type Local struct {
	root   string
	prefix string
}

func NewLocal(publicRoot, prefix string) (*Local, error) {
	root := filepath.Join(publicRoot, filepath.FromSlash(prefix))
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create image root %s: %w", root, err)
	}
	return &Local{root: root, prefix: strings.Trim(prefix, "/")}, nil
}

func (l *Local) Prefix() string { return l.prefix }

// Root is the absolute-or-relative directory holding guide directories.
func (l *Local) Root() string { return l.root }

func (l *Local) path(segs ...string) string {
	return filepath.Join(append([]string{l.root}, segs...)...)
}

func (l *Local) CreateDir(_ context.Context, dir string) error {
	if err := checkSegment(dir); err != nil {
		return err
	}
	if err := os.Mkdir(l.path(dir), 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("directory %s: %w", dir, ErrExist)
		}
		return err
	}
	return nil
}

func (l *Local) MoveDir(_ context.Context, from, to string) error {
	if err := checkSegments(from, to); err != nil {
		return err
	}
	if _, err := os.Stat(l.path(from)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("directory %s: %w", from, ErrNotExist)
		}
		return err
	}
	if _, err := os.Stat(l.path(to)); err == nil {
		return fmt.Errorf("directory %s: %w", to, ErrExist)
	}
	return os.Rename(l.path(from), l.path(to))
}

func (l *Local) RemoveDir(_ context.Context, dir string) error {
	if err := checkSegment(dir); err != nil {
		return err
	}
	return os.RemoveAll(l.path(dir))
}

func (l *Local) DirExists(_ context.Context, dir string) (bool, error) {
	if err := checkSegment(dir); err != nil {
		return false, err
	}
	fi, err := os.Stat(l.path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

func (l *Local) ListDirs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// WriteFile writes to a temp file in the same directory and renames it over
// the destination.
func (l *Local) WriteFile(_ context.Context, dir, name string, data []byte) error {
	if err := checkSegments(dir, name); err != nil {
		return err
	}
	if _, err := os.Stat(l.path(dir)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("directory %s: %w", dir, ErrNotExist)
		}
		return err
	}
	tmp := l.path(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, l.path(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (l *Local) RemoveFile(_ context.Context, dir, name string) error {
	if err := checkSegments(dir, name); err != nil {
		return err
	}
	if err := os.Remove(l.path(dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file %s/%s: %w", dir, name, ErrNotExist)
		}
		return err
	}
	return nil
}

func (l *Local) FileExists(_ context.Context, dir, name string) (bool, error) {
	if err := checkSegments(dir, name); err != nil {
		return false, err
	}
	fi, err := os.Stat(l.path(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}
