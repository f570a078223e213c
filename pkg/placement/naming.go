// Package placement derives where guide images live: the directory name for a
// guide title, the file name for an image, and the stored relative path.
package placement

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyName      = errors.New("title has no characters usable in a directory name")
	ErrUnsupportedExt = errors.New("unsupported image extension")
)

var supportedExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// DirName maps a guide title to its directory name. Spaces become '_' and
// anything outside [A-Za-z0-9_-] is dropped, so the result can never
// contain a separator or a dot segment.
func DirName(title string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if strings.Trim(name, "_-") == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyName, title)
	}
	return name, nil
}

// Ext returns the lower-cased extension of an uploaded file name.
func Ext(original string) (string, error) {
	ext := strings.ToLower(filepath.Ext(original))
	if !supportedExt[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExt, original)
	}
	return ext, nil
}

func IsSupportedExt(name string) bool {
	_, err := Ext(name)
	return err == nil
}

// FileName is "<index><ext>" for the index-th image (1-based). The uploaded
// name contributes only its extension.
func FileName(index int, original string) (string, error) {
	if index < 1 {
		return "", fmt.Errorf("image index must be positive, got %d", index)
	}
	ext, err := Ext(original)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s", index, ext), nil
}

// RelPath joins the stored path with forward slashes regardless of OS.
func RelPath(prefix, dir, file string) string {
	return path.Join(prefix, dir, file)
}

// DirOf returns the directory segment of a stored path built by RelPath.
func DirOf(prefix, stored string) (string, bool) {
	rest := strings.TrimPrefix(stored, strings.TrimSuffix(prefix, "/")+"/")
	if rest == stored {
		return "", false
	}
	dir, _, ok := strings.Cut(rest, "/")
	if !ok || dir == "" {
		return "", false
	}
	return dir, true
}
