package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxPathLength bounds the user-provided part of a path.
const MaxPathLength = 4096

// PathError describes a rejected path.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// PathValidator resolves relative paths against a fixed base directory and
// rejects any that would end up outside it. It is safe for concurrent use.
type PathValidator struct {
	base string
}

// NewPathValidator resolves basePath, which must be an existing directory.
func NewPathValidator(basePath string) (*PathValidator, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path %s is not a directory", basePath)
	}
	return &PathValidator{base: resolved}, nil
}

// Base returns the resolved base directory.
func (v *PathValidator) Base() string {
	return v.base
}

// Validate returns the absolute, symlink-resolved form of userPath joined to
// the base directory. The target itself need not exist yet, but its parent
// directory must.
func (v *PathValidator) Validate(userPath string) (string, error) {
	switch {
	case userPath == "":
		return "", &PathError{Path: userPath, Reason: "path cannot be empty"}
	case len(userPath) > MaxPathLength:
		return "", &PathError{Path: userPath, Reason: fmt.Sprintf("path exceeds %d bytes", MaxPathLength)}
	case !filepath.IsLocal(userPath):
		return "", &PathError{Path: userPath, Reason: "path escapes base directory"}
	}

	full := filepath.Join(v.base, filepath.Clean(userPath))
	resolved, err := filepath.EvalSymlinks(full)
	if errors.Is(err, os.ErrNotExist) {
		var parent string
		parent, err = filepath.EvalSymlinks(filepath.Dir(full))
		resolved = filepath.Join(parent, filepath.Base(full))
	}
	if err != nil {
		return "", &PathError{Path: userPath, Reason: "cannot resolve path"}
	}

	rel, err := filepath.Rel(v.base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: userPath, Reason: "resolved path escapes base directory"}
	}
	return resolved, nil
}
