package compactor

import (
	"context"
	"strings"
	"testing"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

func buildConversation(n int, contentLen int) []domain.ChatMessage {
	msgs := []domain.ChatMessage{domain.System("system prompt"), domain.User("task description")}
	for i := 0; i < n; i++ {
		msgs = append(msgs, domain.Assistant(strings.Repeat("x", contentLen)))
	}
	return msgs
}

func TestRunnerTrimLeavesShortConversationsAlone(t *testing.T) {
	t.Parallel()

	msgs := buildConversation(3, 10)
	got := RunnerTrim(msgs, 1000)
	if len(got) != len(msgs) {
		t.Fatalf("expected no trim, got %d messages", len(got))
	}
}

func TestRunnerTrimKeepsHeadAndTailAcrossThreshold(t *testing.T) {
	t.Parallel()

	msgs := buildConversation(30, 200)
	got := RunnerTrim(msgs, 1000)

	if got[0].Role != domain.RoleSystem || got[1].Role != domain.RoleUser {
		t.Fatalf("expected first two messages preserved, got roles %v %v", got[0].Role, got[1].Role)
	}
	if !strings.Contains(got[2].Content, "truncated") {
		t.Fatalf("expected a truncation marker at position 2, got %q", got[2].Content)
	}
	if len(got) != runnerKeepHead+1+runnerKeepTail {
		t.Fatalf("expected %d messages, got %d", runnerKeepHead+1+runnerKeepTail, len(got))
	}
}

func TestRunnerTrimNeverSplitsToolPairing(t *testing.T) {
	t.Parallel()

	msgs := buildConversation(20, 300)
	// Force the would-be tail boundary onto a tool message.
	tailIdx := len(msgs) - runnerKeepTail
	msgs[tailIdx] = domain.ToolResult("call-1", "some_tool", "tool output")

	got := RunnerTrim(msgs, 1000)
	for i, m := range got {
		if m.Role == domain.RoleTool && i > 0 && got[i-1].Role != domain.RoleAssistant {
			t.Fatalf("tool message at %d has no preceding assistant message", i)
		}
	}
}

type stubClient struct {
	response *llm.AgentResponse
	err      error
}

func (s *stubClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return s.response, s.err
}

func (s *stubClient) Model() string { return "stub" }

func TestSessionCompactSummarizesMiddleAndKeepsTail(t *testing.T) {
	t.Parallel()

	msgs := buildConversation(40, 500)
	client := &stubClient{response: &llm.AgentResponse{Content: "- decided X\n- changed Y"}}

	got, err := SessionCompact(context.Background(), client, msgs, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got[0].Content != msgs[0].Content {
		t.Fatalf("expected first message preserved verbatim")
	}
	if !strings.Contains(got[1].Content, "decided X") {
		t.Fatalf("expected summary as second message, got %q", got[1].Content)
	}
	tail := got[len(got)-sessionKeepTail:]
	if len(tail) != sessionKeepTail {
		t.Fatalf("expected %d verbatim tail messages", sessionKeepTail)
	}
}

func TestSessionCompactSkipsWhenUnderThreshold(t *testing.T) {
	t.Parallel()

	msgs := buildConversation(3, 10)
	client := &stubClient{}

	got, err := SessionCompact(context.Background(), client, msgs, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected untouched conversation, got %d messages", len(got))
	}
}

func TestSafetyNetCapsAtFiftyMessages(t *testing.T) {
	t.Parallel()

	msgs := buildConversation(80, 1)
	got := applySafetyNet(msgs)
	if len(got) > safetyNetMaxMessages {
		t.Fatalf("expected at most %d messages, got %d", safetyNetMaxMessages, len(got))
	}
	if got[0].Content != msgs[0].Content {
		t.Fatalf("expected first message preserved by safety net")
	}
}

func TestTruncateToolOutputPreservesHeadAndTail(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString("line\n")
	}
	out := TruncateToolOutput(sb.String())
	if !strings.Contains(out, "truncated") {
		t.Fatalf("expected truncation marker, got length %d", len(out))
	}
	if len(out) >= sb.Len() {
		t.Fatalf("expected truncated output to be shorter than original")
	}
}

func TestTruncateToolErrorCapsLength(t *testing.T) {
	t.Parallel()

	got := TruncateToolError(strings.Repeat("x", 1000))
	if !strings.HasPrefix(got, "ERROR:") {
		t.Fatalf("expected ERROR: prefix, got %q", got[:20])
	}
	if len(got) > toolErrorMaxChars+10 {
		t.Fatalf("expected capped length, got %d", len(got))
	}
}
