// Package fileops implements the low-level file mutation primitives shared
// by speculative auto-execution (internal/autoexec) and the file.write /
// file.edit tool contracts (internal/tools/files): workspace-sandboxed path
// resolution, directory creation bookkeeping, and find/replace and
// line-range edit application.
package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths, refusing
// anything that would escape the workspace root (spec.md §6's workspace
// contract).
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("file_path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return targetAbs, nil
}

// MissingDirs returns the directories under root that do not yet exist and
// would need to be created to write to resolved, ordered from shallowest
// to deepest. Used so callers can capture exactly which directories an
// operation creates for PreExecutionState.CreatedDirs.
func MissingDirs(root, resolved string) []string {
	dir := filepath.Dir(resolved)
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	var missing []string
	for {
		rel, err := filepath.Rel(rootAbs, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			break
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			missing = append([]string{dir}, missing...)
		} else {
			break
		}
		dir = filepath.Dir(dir)
	}
	return missing
}
