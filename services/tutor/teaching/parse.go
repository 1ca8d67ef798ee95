package teaching

import (
	"encoding/json"
	"regexp"
	"strings"
)

// =============================================================================
// Tolerant LLM Output Parsing
// =============================================================================

// ParseStatus classifies the result of decoding structured LLM output.
type ParseStatus int

const (
	// ParseOK means a JSON payload was found and decoded.
	ParseOK ParseStatus = iota

	// ParseEmpty means the response contained no JSON payload at all.
	ParseEmpty

	// ParseMalformed means a JSON-looking payload was found but failed to
	// decode into the target type.
	ParseMalformed
)

// Outcome reports how an extraction went. Snippet holds a bounded slice of
// the offending text for logs; it is never fed back to users.
type Outcome struct {
	Status  ParseStatus
	Snippet string
	Err     error
}

// OK reports whether the payload decoded successfully.
func (o Outcome) OK() bool {
	return o.Status == ParseOK
}

// codeFencePattern matches a fenced block with an optional language tag.
var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON locates and decodes the first JSON array or object in an LLM
// response, tolerating markdown code fences and surrounding prose. Models
// regularly wrap payloads in ```json fences or prepend commentary; callers
// get a clean decode or a classified failure, never a panic.
func ExtractJSON[T any](response string, target *T) Outcome {
	return extractAny(response, target)
}

// extractAny is the untyped core of ExtractJSON for callers that already
// hold the target behind an interface.
func extractAny(response string, target any) Outcome {
	payload := stripCodeFences(response)

	start, end := jsonBounds(payload)
	if start == -1 {
		return Outcome{Status: ParseEmpty, Snippet: snippet(response)}
	}

	raw := payload[start : end+1]
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return Outcome{Status: ParseMalformed, Snippet: snippet(raw), Err: err}
	}
	return Outcome{Status: ParseOK}
}

// stripCodeFences returns the body of the first fenced block when the
// response carries one, otherwise the response unchanged.
func stripCodeFences(response string) string {
	if !strings.Contains(response, "```") {
		return response
	}
	if m := codeFencePattern.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	return response
}

// jsonBounds finds the span of the outermost JSON value, preferring
// whichever of '[' or '{' appears first.
func jsonBounds(s string) (start, end int) {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	start = objStart
	closing := "}"
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		start = arrStart
		closing = "]"
	}
	if start == -1 {
		return -1, -1
	}

	end = strings.LastIndex(s, closing)
	if end <= start {
		return -1, -1
	}
	return start, end
}

const maxSnippetLen = 200

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxSnippetLen {
		return s
	}
	return s[:maxSnippetLen] + "..."
}
