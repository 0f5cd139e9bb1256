package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

const (
	maxGlobResults   = 100
	maxGrepMatches   = 50
	maxReadLines     = 500
	defaultReadLines = 200
	maxLineLength    = 2000
)

// GlobParams matches a set of files by pattern.
type GlobParams struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern to match files (e.g. '**/*.go', 'internal/**/*.ts')"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search in. Defaults to workspace root."`
}

// GrepParams searches file contents.
type GrepParams struct {
	Pattern    string `json:"pattern" jsonschema:"required,description=Regex pattern to search for in file contents"`
	Path       string `json:"path,omitempty" jsonschema:"description=File or directory to search. Defaults to workspace root."`
	Glob       string `json:"glob,omitempty" jsonschema:"description=Filter files by glob pattern (e.g. '*.go', '*.ts')"`
	IgnoreCase bool   `json:"ignore_case,omitempty" jsonschema:"description=Case insensitive search"`
	Context    int    `json:"context,omitempty" jsonschema:"description=Lines of context around matches (default 0)"`
}

// ReadParams reads a line range from a file.
type ReadParams struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Path to the file to read (relative to workspace root)"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=Line number to start reading from (1-indexed)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Number of lines to read (default 200, max 500)"`
}

// RegisterFilesystemTools wires glob/grep/read against root, each
// requiring only domain.PermissionRead.
func RegisterFilesystemTools(reg *Registry, root string) error {
	if err := reg.Register(Definition{
		Name: "glob",
		Description: `Find files by pattern. Returns file paths sorted by modification time (newest first).

Examples:
  glob(pattern="**/*.go")                    # All Go files
  glob(pattern="internal/**/*.go")           # Go files in internal/
  glob(pattern="*_test.go", path="pkg/")     # Test files in pkg/

Use this to discover files before reading them.`,
		Parameters:         llm.GenerateSchemaFrom(GlobParams{}),
		RequiredPermission: domain.PermissionRead,
	}, func(ctx context.Context, arguments string, _ domain.AgentProfile) (string, error) {
		return executeGlob(ctx, root, arguments)
	}); err != nil {
		return err
	}

	if err := reg.Register(Definition{
		Name: "grep",
		Description: `Search file contents with regex. Returns matching lines with file:line references.

Examples:
  grep(pattern="func.*Plan")                      # Find Plan functions
  grep(pattern="TODO|FIXME", glob="*.go")         # TODOs in Go files
  grep(pattern="error", path="internal/", context=2)  # Errors with context

Use this to find where patterns occur in code.`,
		Parameters:         llm.GenerateSchemaFrom(GrepParams{}),
		RequiredPermission: domain.PermissionRead,
	}, func(ctx context.Context, arguments string, _ domain.AgentProfile) (string, error) {
		return executeGrep(ctx, root, arguments)
	}); err != nil {
		return err
	}

	return reg.Register(Definition{
		Name: "read",
		Description: `Read a file with optional line range. Returns numbered lines.

Examples:
  read(file_path="internal/executor/loop.go")                 # First 200 lines
  read(file_path="internal/executor/loop.go", offset=50, limit=100)  # Lines 50-149

Use this after glob/grep to examine specific code.`,
		Parameters:         llm.GenerateSchemaFrom(ReadParams{}),
		RequiredPermission: domain.PermissionRead,
	}, func(ctx context.Context, arguments string, _ domain.AgentProfile) (string, error) {
		return executeRead(ctx, root, arguments)
	})
}

func executeGlob(ctx context.Context, root, arguments string) (string, error) {
	params, err := llm.ParseToolArguments[GlobParams](arguments)
	if err != nil {
		return "", fmt.Errorf("parse glob params: %w", err)
	}
	if params.Pattern == "" {
		return "Error: pattern is required", nil
	}

	searchPath := root
	if params.Path != "" {
		searchPath = filepath.Join(root, params.Path)
	}
	if !pathWithinRoot(root, searchPath) {
		return "Error: path outside workspace", nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	args := []string{
		"--type", "f",
		"--hidden",
		"--no-ignore",
		"--exclude", ".git",
		"--exclude", "node_modules",
		"--exclude", "vendor",
		"--glob", params.Pattern,
	}
	cmd := exec.CommandContext(timeoutCtx, "fd", args...)
	cmd.Dir = searchPath
	output, err := cmd.Output()
	if err != nil {
		findArgs := []string{
			searchPath, "-type", "f", "-name", params.Pattern,
			"-not", "-path", "*/.git/*",
			"-not", "-path", "*/node_modules/*",
			"-not", "-path", "*/vendor/*",
		}
		cmd = exec.CommandContext(timeoutCtx, "find", findArgs...)
		output, err = cmd.Output()
		if err != nil {
			if timeoutCtx.Err() == context.DeadlineExceeded {
				return "Search timed out. Use a more specific pattern.", nil
			}
			return fmt.Sprintf("Error: glob failed: %s", err), nil
		}
	}

	type fileMatch struct {
		path    string
		modTime time.Time
	}
	var matches []fileMatch
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		fullPath := line
		if !filepath.IsAbs(fullPath) {
			fullPath = filepath.Join(searchPath, line)
		}
		info, err := os.Stat(fullPath)
		if err != nil {
			continue
		}
		relPath, _ := filepath.Rel(root, fullPath)
		if shouldSkipFile(relPath) {
			continue
		}
		matches = append(matches, fileMatch{path: relPath, modTime: info.ModTime()})
		if len(matches) >= maxGlobResults*2 {
			break
		}
	}

	if len(matches) == 0 {
		return fmt.Sprintf("No files match pattern: %s", params.Pattern), nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })
	truncated := len(matches) > maxGlobResults
	if truncated {
		matches = matches[:maxGlobResults]
	}

	var result strings.Builder
	for _, m := range matches {
		result.WriteString(m.path)
		result.WriteString("\n")
	}
	if truncated {
		result.WriteString(fmt.Sprintf("\n[Showing %d matches. Refine pattern for more specific results.]", maxGlobResults))
	}

	return withTokenEstimate(result.String()), nil
}

func shouldSkipFile(path string) bool {
	parts := strings.Split(path, string(filepath.Separator))
	for _, p := range parts {
		if strings.HasPrefix(p, ".") && p != "." && p != ".." {
			return true
		}
	}
	skipDirs := []string{"node_modules", "vendor", ".git", "dist", "build"}
	for _, skip := range skipDirs {
		if strings.Contains(path, string(filepath.Separator)+skip+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func executeGrep(ctx context.Context, root, arguments string) (string, error) {
	params, err := llm.ParseToolArguments[GrepParams](arguments)
	if err != nil {
		return "", fmt.Errorf("parse grep params: %w", err)
	}
	if params.Pattern == "" {
		return "Error: pattern is required", nil
	}

	args := []string{"-n", "--no-heading", "--color=never"}
	if params.IgnoreCase {
		args = append(args, "-i")
	}
	if params.Context > 0 {
		args = append(args, fmt.Sprintf("-C%d", params.Context))
	}
	if params.Glob != "" {
		args = append(args, "-g", params.Glob)
	}
	args = append(args, params.Pattern)

	searchPath := root
	if params.Path != "" {
		searchPath = filepath.Join(root, params.Path)
	}
	if !pathWithinRoot(root, searchPath) {
		return "Error: path outside workspace", nil
	}
	args = append(args, searchPath)

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, "rg", args...)
	output, err := cmd.Output()
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return "Search timed out. Use a more specific pattern or path.", nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return fmt.Sprintf("No matches for pattern: %s", params.Pattern), nil
		}
		if len(output) == 0 {
			return fmt.Sprintf("Search error: %s", err), nil
		}
	}

	lines := strings.Split(string(output), "\n")
	truncated := len(lines) > maxGrepMatches
	if truncated {
		lines = lines[:maxGrepMatches]
	}

	var result strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, root) {
			line = strings.TrimPrefix(line, root+"/")
		}
		result.WriteString(line)
		result.WriteString("\n")
	}
	if truncated {
		result.WriteString(fmt.Sprintf("\n[Showing %d matches. Add a glob filter or refine pattern.]", maxGrepMatches))
	}

	return withTokenEstimate(result.String()), nil
}

func executeRead(ctx context.Context, root, arguments string) (string, error) {
	params, err := llm.ParseToolArguments[ReadParams](arguments)
	if err != nil {
		return "", fmt.Errorf("parse read params: %w", err)
	}
	if params.FilePath == "" {
		return "Error: file_path is required", nil
	}

	fullPath := filepath.Join(root, params.FilePath)
	if !pathWithinRoot(root, fullPath) {
		return "Error: path outside workspace", nil
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", params.FilePath), nil
		}
		return fmt.Sprintf("Error: cannot read file: %s", err), nil
	}
	defer file.Close()

	offset := params.Offset
	if offset < 1 {
		offset = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = defaultReadLines
	}
	if limit > maxReadLines {
		limit = maxReadLines
	}

	scanner := bufio.NewScanner(file)
	var result strings.Builder
	lineNum, linesRead := 0, 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		result.WriteString(fmt.Sprintf("%6d\t%s\n", lineNum, line))
		linesRead++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Sprintf("Error reading file: %s", err), nil
	}
	if linesRead == 0 {
		if lineNum == 0 {
			return "File is empty", nil
		}
		return fmt.Sprintf("No lines at offset %d (file has %d lines)", offset, lineNum), nil
	}

	info := fmt.Sprintf("\n[Read lines %d-%d of %s", offset, offset+linesRead-1, params.FilePath)
	if lineNum > offset+linesRead-1 {
		info += fmt.Sprintf(". File continues to line %d.]", lineNum)
	} else {
		info += ". End of file.]"
	}
	result.WriteString(info)

	return withTokenEstimate(result.String()), nil
}

func pathWithinRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// withTokenEstimate appends a rough token/line-count footer (about four
// characters per token) to a successful glob, grep, read, bash or
// web_fetch result. The footer is informational; nothing parses it.
func withTokenEstimate(output string) string {
	tokenEstimate := len(output) / 4
	lineCount := strings.Count(output, "\n")
	return output + fmt.Sprintf("\n\n[~%d tokens, %d lines]", tokenEstimate, lineCount)
}
