package fileops

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteResult reports what WriteFile actually did, for both the tool's
// output payload and the auto-exec engine's pre-state capture.
type WriteResult struct {
	ResolvedPath    string
	Existed         bool
	OriginalContent string // only meaningful if Existed
	BytesWritten    int
	CreatedDirs     []string
}

// WriteFile implements the file.write contract: create_dirs (default true)
// governs whether missing parent directories are created; overwrite
// (default true) governs whether an existing file may be replaced. The
// original content (if any) is always returned so callers building
// PreExecutionState don't need a separate read.
func WriteFile(root, path, content string, createDirs, overwrite bool) (WriteResult, error) {
	resolver := Resolver{Root: root}
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return WriteResult{}, err
	}

	result := WriteResult{ResolvedPath: resolved}
	existing, readErr := os.ReadFile(resolved)
	if readErr == nil {
		result.Existed = true
		result.OriginalContent = string(existing)
		if !overwrite {
			return result, fmt.Errorf("file exists and overwrite=false: %s", path)
		}
	} else if !os.IsNotExist(readErr) {
		return result, fmt.Errorf("stat %s: %w", path, readErr)
	}

	dir := filepath.Dir(resolved)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if !createDirs {
			return result, fmt.Errorf("parent directory does not exist and create_dirs=false: %s", path)
		}
		result.CreatedDirs = MissingDirs(root, resolved)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return result, fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return result, fmt.Errorf("write file: %w", err)
	}
	result.BytesWritten = len(content)
	return result, nil
}

// DeleteFile removes resolved if it exists; used by the revert engine to
// undo a write that created a new file.
func DeleteFile(resolved string) error {
	if err := os.Remove(resolved); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RestoreFile overwrites resolved with content; used by the revert engine
// to undo a write that replaced an existing file.
func RestoreFile(resolved, content string) error {
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// RemoveEmptyDirs removes each directory in dirs (deepest first) if, and
// only if, it is still empty — used on revert/reject to clean up
// directories an auto-executed write created but that ended up unused.
func RemoveEmptyDirs(dirs []string) {
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		_ = os.Remove(dirs[i])
	}
}
