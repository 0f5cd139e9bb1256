// Package compactor implements both trim levels of the Conversation
// Compactor (§4.6): the per-task runner-level trim the Agent Executor Loop
// applies inline, and the orchestrator's session-level compact invoked
// before each new user turn. Both are purely token-budget-driven and never
// split a tool_calls/tool pairing at a trim boundary.
package compactor

import (
	"context"
	"fmt"
	"strings"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

const (
	runnerTrimThresholdPct  = 60
	sessionCompactThreshold = 75
	runnerKeepHead          = 2
	runnerKeepTail          = 6
	sessionKeepTail         = 10
	safetyNetMaxMessages    = 50
	sourceMessageTruncChars = 500
	summaryMaxOutputTokens  = 300
)

// EstimateTokens is the ~4-chars-per-token estimate used module-wide for
// prompt budgeting, matching internal/tools' own footer estimate.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// EstimateConversationTokens sums the token estimate across every message,
// content plus any tool-call argument payloads.
func EstimateConversationTokens(messages []domain.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
		}
	}
	return total
}

// RunnerTrim applies the per-task trim described in §4.3: once the running
// token estimate exceeds 60% of contextWindowTokens, keep the first 2
// messages (system, user) and the last runnerKeepTail, with a single
// truncation marker between them. The tail boundary is shifted earlier
// when it would otherwise split a tool_calls/tool pairing.
func RunnerTrim(messages []domain.ChatMessage, contextWindowTokens int) []domain.ChatMessage {
	threshold := contextWindowTokens * runnerTrimThresholdPct / 100
	if EstimateConversationTokens(messages) <= threshold {
		return messages
	}
	if len(messages) <= runnerKeepHead+runnerKeepTail+1 {
		return messages
	}

	tailStart := adjustTailBoundary(messages, len(messages)-runnerKeepTail)
	if tailStart <= runnerKeepHead {
		return messages
	}

	out := make([]domain.ChatMessage, 0, runnerKeepHead+1+(len(messages)-tailStart))
	out = append(out, messages[:runnerKeepHead]...)
	out = append(out, domain.System("[… previous conversation truncated …]"))
	out = append(out, messages[tailStart:]...)
	return out
}

// adjustTailBoundary walks idx backward past any tool-result message so the
// kept tail never starts mid-pairing (a tool message without its preceding
// assistant tool_calls message).
func adjustTailBoundary(messages []domain.ChatMessage, idx int) int {
	for idx > 0 && idx < len(messages) && messages[idx].Role == domain.RoleTool {
		idx--
	}
	return idx
}

// SessionCompact implements the orchestrator's session-level compact: once
// the conversation exceeds 75% of contextWindowTokens, the first message is
// preserved verbatim, the middle is replaced by a one-shot LLM
// summarization exchange, and the last sessionKeepTail messages are kept
// verbatim. A safety net then caps the result at safetyNetMaxMessages
// regardless of token counts.
func SessionCompact(ctx context.Context, client llm.AgentClient, messages []domain.ChatMessage, contextWindowTokens int) ([]domain.ChatMessage, error) {
	threshold := contextWindowTokens * sessionCompactThreshold / 100
	if EstimateConversationTokens(messages) <= threshold {
		return applySafetyNet(messages), nil
	}
	if len(messages) <= 1+sessionKeepTail {
		return applySafetyNet(messages), nil
	}

	tailStart := adjustTailBoundary(messages, len(messages)-sessionKeepTail)
	if tailStart <= 1 {
		return applySafetyNet(messages), nil
	}

	first := messages[0]
	middle := messages[1:tailStart]

	summary, err := summarize(ctx, client, middle)
	if err != nil {
		return nil, fmt.Errorf("compactor: summarize middle: %w", err)
	}

	out := make([]domain.ChatMessage, 0, 2+len(messages)-tailStart)
	out = append(out, first, summary)
	out = append(out, messages[tailStart:]...)

	return applySafetyNet(out), nil
}

func summarize(ctx context.Context, client llm.AgentClient, middle []domain.ChatMessage) (domain.ChatMessage, error) {
	var sb strings.Builder
	for _, m := range middle {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, truncateChars(m.Content, sourceMessageTruncChars)))
	}

	req := llm.AgentRequest{
		Messages: []domain.ChatMessage{
			domain.System("Summarize the conversation so far in a few bullet points capturing decisions made and files changed. Be terse."),
			domain.User(sb.String()),
		},
		MaxTokens: summaryMaxOutputTokens,
	}

	resp, err := client.ChatWithTools(ctx, req)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	return domain.System(fmt.Sprintf("[compacted %d earlier messages]\n%s", len(middle), resp.Content)), nil
}

func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// applySafetyNet trims to at most safetyNetMaxMessages regardless of token
// counts, keeping the first message and the most recent ones.
func applySafetyNet(messages []domain.ChatMessage) []domain.ChatMessage {
	if len(messages) <= safetyNetMaxMessages {
		return messages
	}

	tailStart := adjustTailBoundary(messages, len(messages)-(safetyNetMaxMessages-1))
	if tailStart <= 1 {
		tailStart = 1
	}

	out := make([]domain.ChatMessage, 0, 1+len(messages)-tailStart)
	out = append(out, messages[0])
	out = append(out, messages[tailStart:]...)
	return out
}
