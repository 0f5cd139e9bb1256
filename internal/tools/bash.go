package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
	"agentcore/internal/sandbox"
)

const (
	bashTimeoutSeconds = 10
	maxBashOutput      = 10000
)

// BashParams is the bash tool's single argument.
type BashParams struct {
	Command string `json:"command" jsonschema:"required,description=Bash command to execute (read-only: git log/diff/blame, ls, find)"`
}

var bashAllowedPrefixes = []string{
	"git log", "git show", "git diff", "git blame", "git status",
	"git branch", "git tag", "git remote", "git grep", "git rev-parse",
	"ls ", "ls", "wc ", "file ", "stat ", "tree ",
	"find ",
	"cat ", "head ", "tail ", "grep ", "rg ",
}

var bashBlockedPrefixes = []string{
	"rm ", "mv ", "cp ", "mkdir ", "touch ", "chmod ", "chown ",
	"git push", "git commit", "git checkout", "git reset", "git rebase",
	"git merge", "git pull", "git stash", "git clean", "git add",
	"echo ", "printf ", "sed ", "awk ",
	">", ">>",
}

var absPathPattern = regexp.MustCompile(`(?:^|[\s'"])(/[^\s'"]+)`)

// RegisterBashTool wires the bash tool against root, wrapping every
// command through wrapper with the calling agent's own sandbox profile
// (§4.5 — the sandbox wrapper is never bypassed for a shell-executing
// tool). RequiredPermission is execute, so permission.Mediator always
// mediates it before wrapper ever sees the command.
func RegisterBashTool(reg *Registry, root string, wrapper *sandbox.Wrapper) error {
	return reg.Register(Definition{
		Name: "bash",
		Description: `Execute read-only bash commands. Use for git history and directory listing.

Allowed:
  git log --oneline -10 file.go    # Recent commits
  git diff HEAD~5 file.go          # Recent changes
  git blame -L 50,70 file.go       # Line history
  ls -la internal/                 # Directory contents

NOT allowed: rm, mv, cp, echo, write operations.`,
		Parameters:         llm.GenerateSchemaFrom(BashParams{}),
		RequiredPermission: domain.PermissionExecute,
	}, func(ctx context.Context, arguments string, profile domain.AgentProfile) (string, error) {
		return executeBash(ctx, root, wrapper, profile, arguments)
	})
}

func executeBash(ctx context.Context, root string, wrapper *sandbox.Wrapper, profile domain.AgentProfile, arguments string) (string, error) {
	params, err := llm.ParseToolArguments[BashParams](arguments)
	if err != nil {
		return "", fmt.Errorf("parse bash params: %w", err)
	}

	command := strings.TrimSpace(params.Command)
	if command == "" {
		return "Error: command is required", nil
	}

	if allowed, reason := isBashCommandAllowed(root, command); !allowed {
		slog.DebugContext(ctx, "bash command blocked", "command", command, "reason", reason)
		return fmt.Sprintf("Command blocked: %s\n\nAllowed: git log/show/diff/blame/status, ls, tree, find, cat, head, tail, grep, rg", reason), nil
	}

	wrapped := command
	if wrapper != nil {
		wrapped = wrapper.Wrap(command, profile.Sandbox)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, bashTimeoutSeconds*time.Second)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, "bash", "-c", wrapped)
	cmd.Dir = root

	output, err := cmd.CombinedOutput()
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Command timed out after %d seconds.", bashTimeoutSeconds), nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ExitCode() == 1 && strings.HasPrefix(command, "find") {
				return "No matches found", nil
			}
		}
		if len(output) > 0 {
			return fmt.Sprintf("Command failed: %s\nOutput:\n%s", err, truncateBashOutput(output)), nil
		}
		return fmt.Sprintf("Command failed: %s", err), nil
	}

	return withTokenEstimate(truncateBashOutput(output)), nil
}

func isBashCommandAllowed(root, command string) (bool, string) {
	cmd := strings.TrimSpace(command)

	for _, prefix := range bashBlockedPrefixes {
		if strings.HasPrefix(cmd, prefix) {
			return false, fmt.Sprintf("'%s' not allowed - use dedicated tools", strings.TrimSpace(prefix))
		}
	}
	if strings.Contains(cmd, " > ") || strings.Contains(cmd, " >> ") {
		return false, "output redirection not allowed"
	}
	if ok, reason := areBashPathsAllowed(root, cmd); !ok {
		return false, reason
	}
	for _, prefix := range bashAllowedPrefixes {
		if strings.HasPrefix(cmd, prefix) {
			return true, ""
		}
	}
	return false, "command not in allowed list"
}

func areBashPathsAllowed(root, command string) (bool, string) {
	if strings.HasPrefix(command, "..") || strings.Contains(command, "../") {
		return false, "path traversal outside workspace not allowed"
	}

	for _, match := range absPathPattern.FindAllStringSubmatch(command, -1) {
		if len(match) < 2 {
			continue
		}
		pathToken := strings.TrimRight(match[1], ".,;:")
		if !pathWithinRoot(root, pathToken) {
			return false, "absolute path outside workspace not allowed"
		}
	}
	return true, ""
}

func truncateBashOutput(output []byte) string {
	if len(output) <= maxBashOutput {
		return string(output)
	}
	truncated := output[:maxBashOutput]
	if lastNewline := strings.LastIndex(string(truncated), "\n"); lastNewline > maxBashOutput/2 {
		truncated = truncated[:lastNewline]
	}
	return string(truncated) + "\n\n[Output truncated]"
}
