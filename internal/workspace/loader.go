package workspace

import (
	"os"
	"path/filepath"
)

// Context holds the workspace-level instruction content consumed by the
// iteration driver's prompt builder.
type Context struct {
	Root          string
	AgentsContent string
}

// LoaderConfig configures the workspace loader.
type LoaderConfig struct {
	Root       string
	AgentsFile string
}

// LoadWorkspace loads AGENTS.md (if present) from the workspace root. A
// missing file is not an error — the prompt builder falls back to baseline
// instructions.
func LoadWorkspace(cfg LoaderConfig) (*Context, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	agentsFile := cfg.AgentsFile
	if agentsFile == "" {
		agentsFile = "AGENTS.md"
	}
	content, err := readOptionalFile(filepath.Join(root, agentsFile))
	if err != nil {
		return nil, err
	}
	return &Context{Root: root, AgentsContent: content}, nil
}

func readOptionalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
