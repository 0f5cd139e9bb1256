package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

// WriteFileParams writes (creating or overwriting) a single file.
type WriteFileParams struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Path to the file to write (relative to workspace root)"`
	Content  string `json:"content" jsonschema:"required,description=Full file content to write"`
}

// CreatedFilePrefix and ModifiedFilePrefix mark the executor-parseable
// outcome of a write_file call, so the Agent Executor Loop can populate
// AgentResult.FilesCreated/FilesModified without re-parsing tool arguments.
const (
	CreatedFilePrefix  = "Created file: "
	ModifiedFilePrefix = "Modified file: "
)

// RegisterWriteFileTool wires the write_file tool, the only tool requiring
// domain.PermissionWrite (bash requires domain.PermissionExecute). The sandbox profile's
// AllowWrite/DenyWrite globs are consulted directly here (not through
// internal/sandbox, which only wraps shell-executing commands) since a
// direct file write has no shell command to rewrite.
func RegisterWriteFileTool(reg *Registry, root string) error {
	return reg.Register(Definition{
		Name: "write_file",
		Description: `Write (create or overwrite) a file with the given content.

Examples:
  write_file(file_path="internal/executor/loop.go", content="package executor\n...")

Use read first to see existing content before overwriting.`,
		Parameters:         llm.GenerateSchemaFrom(WriteFileParams{}),
		RequiredPermission: domain.PermissionWrite,
	}, func(ctx context.Context, arguments string, profile domain.AgentProfile) (string, error) {
		return executeWriteFile(root, profile, arguments)
	})
}

func executeWriteFile(root string, profile domain.AgentProfile, arguments string) (string, error) {
	params, err := llm.ParseToolArguments[WriteFileParams](arguments)
	if err != nil {
		return "", fmt.Errorf("parse write_file params: %w", err)
	}
	if params.FilePath == "" {
		return "Error: file_path is required", nil
	}

	fullPath := filepath.Join(root, params.FilePath)
	if !pathWithinRoot(root, fullPath) {
		return "Error: path outside workspace", nil
	}

	fs := profile.Sandbox.Filesystem
	if fs.ReadOnly() {
		return fmt.Sprintf("Error: write denied, agent's sandbox profile is read-only: %s", params.FilePath), nil
	}
	if denied, pattern := matchesAny(fs.DenyWrite, params.FilePath); denied {
		return fmt.Sprintf("Error: write denied, %s matches denied path %s", params.FilePath, pattern), nil
	}
	if len(fs.AllowWrite) > 0 {
		if allowed, _ := matchesAny(fs.AllowWrite, params.FilePath); !allowed {
			return fmt.Sprintf("Error: write denied, %s is outside the agent's allowed-write paths", params.FilePath), nil
		}
	}

	_, statErr := os.Stat(fullPath)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Sprintf("Error creating parent directories: %s", err), nil
	}
	if err := os.WriteFile(fullPath, []byte(params.Content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %s", err), nil
	}

	if existed {
		return ModifiedFilePrefix + params.FilePath, nil
	}
	return CreatedFilePrefix + params.FilePath, nil
}

// matchesAny reports whether path matches any of globs. Uses doublestar
// rather than filepath.Match so a profile can write "**/*.go"-style
// recursive globs, not just a single path segment.
func matchesAny(globs []string, path string) (bool, string) {
	for _, g := range globs {
		if g == "*" {
			return true, g
		}
		if ok, _ := doublestar.Match(g, path); ok {
			return true, g
		}
	}
	return false, ""
}
