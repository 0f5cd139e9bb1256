// Package session implements the session recorder and replay comparator
// (§6): an append-only NDJSON log of every LLM exchange, and a strict-mode
// comparator that flags where a replayed session diverges from the one
// that was recorded.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/llm"
)

// DefaultFilename is the NDJSON file a Recorder appends to inside its
// session directory.
const DefaultFilename = "session.ndjson"

// RecordedRequest is the request half of one exchange, per §6's
// "{timestamp, request:{model, messages, tools}, response, latencyMs}".
type RecordedRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Tools    []llm.Tool           `json:"tools"`
}

// Record is one line of the session log: one LLM exchange.
type Record struct {
	Timestamp time.Time          `json:"timestamp"`
	Request   RecordedRequest    `json:"request"`
	Response  *llm.AgentResponse `json:"response"`
	LatencyMs int64              `json:"latencyMs"`
}

// Recorder appends Records to an NDJSON file, one JSON object per line,
// flushed after every write so a crash loses at most the in-flight
// record.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewRecorder opens (creating if necessary) dir/session.ndjson in append
// mode with owner-only permissions, per §6's working-state/session file
// posture.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	path := filepath.Join(dir, DefaultFilename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	return &Recorder{file: file, writer: bufio.NewWriter(file), path: path}, nil
}

// Path returns the file this Recorder writes to.
func (r *Recorder) Path() string {
	return r.path
}

// Record appends one exchange to the log.
func (r *Recorder) Record(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if _, err := r.writer.Write(data); err != nil {
		return fmt.Errorf("session: write record: %w", err)
	}
	if err := r.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("session: write newline: %w", err)
	}
	return r.writer.Flush()
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	if err := r.writer.Flush(); err != nil {
		_ = r.file.Close()
		r.file = nil
		return fmt.Errorf("session: flush on close: %w", err)
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

// RecordingClient wraps an llm.AgentClient, writing a Record for every
// exchange before returning the underlying response to the caller
// unchanged. A nil Recorder makes this a transparent pass-through, so the
// decorator can be wired in unconditionally and toggled by whether a
// session directory was configured.
type RecordingClient struct {
	Inner    llm.AgentClient
	Recorder *Recorder
}

func (c *RecordingClient) Model() string {
	return c.Inner.Model()
}

func (c *RecordingClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	start := time.Now()
	resp, err := c.Inner.ChatWithTools(ctx, req)
	latency := time.Since(start)

	if c.Recorder != nil {
		rec := Record{
			Timestamp: start,
			Request: RecordedRequest{
				Model:    c.Inner.Model(),
				Messages: req.Messages,
				Tools:    req.Tools,
			},
			Response:  resp,
			LatencyMs: latency.Milliseconds(),
		}
		if recErr := c.Recorder.Record(rec); recErr != nil {
			slog.WarnContext(ctx, "session recorder write failed", "error", recErr)
		}
	}

	return resp, err
}
