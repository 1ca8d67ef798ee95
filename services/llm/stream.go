package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType identifies the kind of event emitted during streaming.
type StreamEventType string

const (
	StreamEventToken    StreamEventType = "token"
	StreamEventThinking StreamEventType = "thinking"
	StreamEventError    StreamEventType = "error"
	StreamEventDone     StreamEventType = "done"
)

// StreamEvent is one unit of streamed LLM output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Err     error
}

// StreamCallback receives stream events in generation order. Returning a
// non-nil error aborts the stream.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Stream Configuration
// =============================================================================

// StreamConfig bounds stream processing.
//
// MaxResponseLength and MaxThinkingLength are byte limits over the whole
// stream; zero disables the limit. RedactThinking suppresses thinking
// events entirely (content never reaches the callback).
type StreamConfig struct {
	RedactThinking    bool
	MaxThinkingLength int
	MaxResponseLength int
}

// DefaultStreamConfig returns the production stream bounds.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RedactThinking:    false,
		MaxThinkingLength: 64 * 1024,
		MaxResponseLength: 256 * 1024,
	}
}

// =============================================================================
// Stream Processor
// =============================================================================

// DefaultStreamProcessor turns parsed upstream chunks into StreamEvents,
// enforcing the configured bounds and tracking token statistics.
//
// Not safe for concurrent use; each stream gets its own processor.
type DefaultStreamProcessor struct {
	config         StreamConfig
	logger         *slog.Logger
	tokenCount     int
	responseLength int
	thinkingLength int
}

// NewDefaultStreamProcessor creates a processor for one stream. A nil
// logger falls back to slog.Default().
func NewDefaultStreamProcessor(cfg StreamConfig, logger *slog.Logger) *DefaultStreamProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultStreamProcessor{
		config: cfg,
		logger: logger,
	}
}

// ProcessChunk handles one parsed upstream chunk.
//
// Returns done=true when the chunk carries a finish reason. Content tokens
// are forwarded as StreamEventToken; reasoning tokens as StreamEventThinking
// unless redacted. Length limits abort the stream with an error.
func (p *DefaultStreamProcessor) ProcessChunk(ctx context.Context, chunk *deepseekStreamChunk, callback StreamCallback) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if chunk == nil || len(chunk.Choices) == 0 {
		return false, nil
	}

	choice := chunk.Choices[0]

	if thinking := choice.Delta.ReasoningContent; thinking != "" && !p.config.RedactThinking {
		p.thinkingLength += len(thinking)
		if p.config.MaxThinkingLength > 0 && p.thinkingLength > p.config.MaxThinkingLength {
			return false, fmt.Errorf("thinking stream exceeded %d bytes", p.config.MaxThinkingLength)
		}
		if err := callback(StreamEvent{Type: StreamEventThinking, Content: thinking}); err != nil {
			return false, err
		}
	}

	if content := choice.Delta.Content; content != "" {
		p.tokenCount++
		p.responseLength += len(content)
		if p.config.MaxResponseLength > 0 && p.responseLength > p.config.MaxResponseLength {
			return false, fmt.Errorf("response stream exceeded %d bytes", p.config.MaxResponseLength)
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: content}); err != nil {
			return false, err
		}
	}

	if choice.FinishReason != "" {
		return true, nil
	}
	return false, nil
}

// GetTokenCount returns the number of content tokens processed so far.
func (p *DefaultStreamProcessor) GetTokenCount() int {
	return p.tokenCount
}

// GetResponseLength returns the accumulated content length in bytes.
func (p *DefaultStreamProcessor) GetResponseLength() int {
	return p.responseLength
}

// =============================================================================
// SSE Wire Parsing
// =============================================================================

// sseDoneSentinel terminates an OpenAI-style SSE stream.
const sseDoneSentinel = "[DONE]"

// scanSSEEvents is a bufio.SplitFunc that yields one complete SSE event per
// token, splitting on the blank-line delimiter. Partial events at the end of
// a read are held back until completed, so chunk boundaries mid-event are
// safe.
func scanSSEEvents(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	// Events are delimited by a blank line; tolerate \r\n line endings.
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, bytes.TrimRight(data[:i], "\r"), nil
	}
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return i + 4, data[:i], nil
	}
	if atEOF {
		return len(data), bytes.TrimRight(data, "\r\n"), nil
	}
	return 0, nil, nil
}

// extractSSEData pulls the data payload out of one SSE event block.
//
// Multi-line data fields are joined with newlines per the SSE spec.
// Returns ok=false for comment-only or empty events (heartbeats).
func extractSSEData(event []byte) (payload string, ok bool) {
	var parts []string
	for _, line := range strings.Split(string(event), "\n") {
		line = strings.TrimRight(line, "\r")
		if rest, found := strings.CutPrefix(line, "data:"); found {
			parts = append(parts, strings.TrimPrefix(rest, " "))
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// newSSEScanner wraps r with the SSE event splitter and a buffer large
// enough for oversized single events.
func newSSEScanner(r *bufio.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanSSEEvents)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
