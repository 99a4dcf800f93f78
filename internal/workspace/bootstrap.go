package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BootstrapFile represents a file to seed in a fresh workspace.
type BootstrapFile struct {
	Name    string
	Content string
}

// BootstrapResult captures the files created or skipped during bootstrap.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// DefaultBootstrapFiles returns the default file set seeded into a new
// workspace root before the first task runs against it.
func DefaultBootstrapFiles() []BootstrapFile {
	return []BootstrapFile{
		{
			Name: "AGENTS.md",
			Content: "# AGENTS.md - Workspace Instructions\n\n" +
				"This workspace is the agent's sandboxed working directory.\n\n" +
				"## Safety\n" +
				"- Do not exfiltrate secrets or read outside the workspace root.\n" +
				"- Avoid destructive actions unless explicitly requested.\n\n" +
				"## Workflow\n" +
				"- Write a plan with plan.write before multi-step work.\n" +
				"- Prefer file.edit over file.write for existing files.\n",
		},
	}
}

// Bootstrap seeds the default files into root, skipping any that already exist.
func Bootstrap(root string, files []BootstrapFile) (*BootstrapResult, error) {
	if len(files) == 0 {
		files = DefaultBootstrapFiles()
	}
	result := &BootstrapResult{}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	for _, f := range files {
		path := filepath.Join(root, f.Name)
		if _, err := os.Stat(path); err == nil {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", f.Name, err)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create dir for %s: %w", f.Name, err)
			}
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
		result.Created = append(result.Created, f.Name)
	}
	return result, nil
}

// HasAgentsFile reports whether root already contains an AGENTS.md.
func HasAgentsFile(root string) bool {
	_, err := os.Stat(filepath.Join(root, "AGENTS.md"))
	return err == nil
}

// FormatResult renders a bootstrap result as a short human summary.
func (r *BootstrapResult) FormatResult() string {
	if r == nil {
		return "no files"
	}
	parts := make([]string, 0, 2)
	if len(r.Created) > 0 {
		parts = append(parts, "created: "+strings.Join(r.Created, ", "))
	}
	if len(r.Skipped) > 0 {
		parts = append(parts, "skipped: "+strings.Join(r.Skipped, ", "))
	}
	if len(parts) == 0 {
		return "no files"
	}
	return strings.Join(parts, "; ")
}
