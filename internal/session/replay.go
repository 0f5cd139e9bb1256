package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

// ReadRecords loads every Record from an NDJSON session log, in order.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("session: parse line %d of %s: %w", line, path, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	return records, nil
}

// Mismatch reports one point where a replayed session diverges from the
// one it is being compared against.
type Mismatch struct {
	Index    int
	Field    string
	Expected string
	Actual   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("record %d: %s mismatch: expected %q, got %q", m.Index, m.Field, m.Expected, m.Actual)
}

// CompareStrict compares a recorded session trace against a freshly
// produced one exchange-by-exchange, per §6's "replay consumes the same
// format and, in strict mode, flags mismatches in message roles and tool
// names." A record-count difference is itself reported once rather than
// silently comparing only the shared prefix.
func CompareStrict(recorded, actual []Record) []Mismatch {
	var mismatches []Mismatch

	n := len(recorded)
	if len(actual) < n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		mismatches = append(mismatches, compareRecord(i, recorded[i], actual[i])...)
	}
	if len(recorded) != len(actual) {
		mismatches = append(mismatches, Mismatch{
			Index:    n,
			Field:    "record_count",
			Expected: fmt.Sprintf("%d", len(recorded)),
			Actual:   fmt.Sprintf("%d", len(actual)),
		})
	}
	return mismatches
}

func compareRecord(i int, recorded, actual Record) []Mismatch {
	var mismatches []Mismatch

	recordedRoles := messageRoles(recorded.Request.Messages)
	actualRoles := messageRoles(actual.Request.Messages)
	if recordedRoles != actualRoles {
		mismatches = append(mismatches, Mismatch{
			Index: i, Field: "message_roles",
			Expected: recordedRoles, Actual: actualRoles,
		})
	}

	recordedNames := toolCallNames(recorded.Response)
	actualNames := toolCallNames(actual.Response)
	if recordedNames != actualNames {
		mismatches = append(mismatches, Mismatch{
			Index: i, Field: "tool_call_names",
			Expected: recordedNames, Actual: actualNames,
		})
	}

	return mismatches
}

func messageRoles(messages []domain.ChatMessage) string {
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = string(m.Role)
	}
	return strings.Join(roles, ",")
}

func toolCallNames(resp *llm.AgentResponse) string {
	if resp == nil {
		return ""
	}
	names := make([]string, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		names[i] = tc.Name
	}
	return strings.Join(names, ",")
}
