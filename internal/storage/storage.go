// Package storage holds guide image directories. A directory is named by
// placement.DirName and contains files named by placement.FileName.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExist    = errors.New("already exists")
	ErrNotExist = errors.New("does not exist")
	ErrBadName  = errors.New("invalid path segment")
)

// Storage is the image backend. dir and name are single path segments.
type Storage interface {
	// Prefix is the image prefix under the public root, e.g. guides/images.
	Prefix() string

	// CreateDir fails with ErrExist when dir is already present.
	CreateDir(ctx context.Context, dir string) error
	// MoveDir fails with ErrNotExist when from is missing and ErrExist
	// when to is already present.
	MoveDir(ctx context.Context, from, to string) error
	// RemoveDir removes dir and everything in it. A missing dir is not an error.
	RemoveDir(ctx context.Context, dir string) error
	DirExists(ctx context.Context, dir string) (bool, error)
	ListDirs(ctx context.Context) ([]string, error)

	// WriteFile replaces dir/name atomically. dir must exist.
	WriteFile(ctx context.Context, dir, name string, data []byte) error
	// RemoveFile fails with ErrNotExist when the file is missing.
	RemoveFile(ctx context.Context, dir, name string) error
	FileExists(ctx context.Context, dir, name string) (bool, error)
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadName, s)
	}
	return nil
}

func checkSegments(segs ...string) error {
	for _, s := range segs {
		if err := checkSegment(s); err != nil {
			return err
		}
	}
	return nil
}
