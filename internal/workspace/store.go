package workspace

import (
	"errors"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid path")
)

// Entry describes one stored file.
type Entry struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Store is the workspace file boundary. Paths are workspace-relative and
// normalized before use; implementations never see traversal segments.
type Store interface {
	Read(path string) (string, error)
	Write(path, content string) error
	Delete(path string) error
	List(dir string) ([]Entry, error)
	Exists(path string) (bool, error)
	Clear() error
	Close() error
}

// Normalize canonicalizes a workspace-relative path. UI-form prefixes
// ("./", "workspace/") are stripped and the bare relative form is returned.
// Absolute paths, traversal segments and backslashes are rejected.
func Normalize(p string) (string, error) {
	trimmed := strings.TrimSpace(p)
	trimmed = strings.TrimPrefix(trimmed, "./")
	trimmed = strings.TrimPrefix(trimmed, "workspace/")
	trimmed = strings.TrimPrefix(trimmed, "./")
	if trimmed == "" {
		return "", ErrInvalidPath
	}
	if strings.Contains(trimmed, "\\") {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(trimmed, "/") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(trimmed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

// NormalizeDir is Normalize for directory arguments, where the empty string
// (or "." / "./") addresses the workspace root.
func NormalizeDir(dir string) (string, error) {
	trimmed := strings.TrimSpace(dir)
	trimmed = strings.TrimPrefix(trimmed, "./")
	trimmed = strings.TrimPrefix(trimmed, "workspace/")
	trimmed = strings.TrimPrefix(trimmed, "./")
	if trimmed == "" || trimmed == "." {
		return "", nil
	}
	return Normalize(trimmed)
}

// SamePath reports whether two workspace paths address the same file once
// both are normalized. Unnormalizable inputs fall back to exact comparison.
func SamePath(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return na == nb
}
