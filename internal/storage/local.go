package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot marks a local path that escapes its configured root.
var ErrOutsideRoot = errors.New("path outside allowed root")

// Within fails with ErrOutsideRoot unless p is root or lies below it.
// Both are made absolute first. Symlinks are not followed.
func Within(root, p string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return nil
}

// ResolveLocal joins a relative p onto root and checks the result stays
// inside root. An empty root leaves p unconfined.
func ResolveLocal(root, p string) (string, error) {
	if root == "" {
		return filepath.Clean(p), nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if err := Within(root, p); err != nil {
		return "", err
	}
	return p, nil
}
