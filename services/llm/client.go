package llm

import (
	"context"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
//
// Implementations must be safe for concurrent use. ChatStream invokes the
// callback once per complete upstream event, in order, and returns on every
// exit path (success, upstream error, context cancellation) so callers can
// guarantee exactly-once completion semantics around it.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}

// ConfigReporter is implemented by backends that can describe their own
// configuration state for health reporting.
type ConfigReporter interface {
	// Configured reports whether the backend has real upstream credentials.
	Configured() bool

	// FallbackActive reports whether the backend has switched to canned
	// responses for the remainder of the process lifetime.
	FallbackActive() bool
}
