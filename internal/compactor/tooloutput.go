package compactor

import (
	"fmt"
	"strings"
)

const (
	// ToolOutputMaxChars is the character length above which a tool result
	// is truncated before being appended to a task's message history
	// (§4.3). Head and tail lines are kept whole, so a truncated result can
	// still be longer than this when those lines are long.
	ToolOutputMaxChars = 4000
	toolOutputHeadLines = 20
	toolOutputTailLines = 20
	toolErrorMaxChars   = 500
)

// TruncateToolOutput leaves a successful tool result of at most
// ToolOutputMaxChars unchanged. A longer result keeps its first and last
// 20 lines with a "[… N lines truncated …]" marker in place of the middle;
// one with 40 lines or fewer is cut to ToolOutputMaxChars characters
// followed by "...".
func TruncateToolOutput(output string) string {
	return truncateMiddle(output, ToolOutputMaxChars, toolOutputHeadLines, toolOutputTailLines)
}

// TruncateToolError caps a tool failure message to a short ERROR: string.
func TruncateToolError(message string) string {
	if !strings.HasPrefix(message, "ERROR:") {
		message = "ERROR: " + message
	}
	return truncateChars(message, toolErrorMaxChars)
}

func truncateMiddle(output string, maxChars, headLines, tailLines int) string {
	if len(output) <= maxChars {
		return output
	}

	lines := strings.Split(output, "\n")
	if len(lines) <= headLines+tailLines {
		return truncateChars(output, maxChars)
	}

	head := lines[:headLines]
	tail := lines[len(lines)-tailLines:]
	truncatedCount := len(lines) - headLines - tailLines

	var sb strings.Builder
	sb.WriteString(strings.Join(head, "\n"))
	sb.WriteString(fmt.Sprintf("\n[… %d lines truncated …]\n", truncatedCount))
	sb.WriteString(strings.Join(tail, "\n"))
	return sb.String()
}
