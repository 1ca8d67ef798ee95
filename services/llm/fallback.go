package llm

import (
	"strings"
)

// =============================================================================
// Fallback Response Generation
// =============================================================================

// fallbackCategory selects which canned template answers a prompt.
type fallbackCategory string

const (
	fallbackGreeting fallbackCategory = "greeting"
	fallbackCode     fallbackCategory = "code"
	fallbackQuestion fallbackCategory = "question"
	fallbackDefault  fallbackCategory = "default"
)

// fallbackKeywords maps trigger words to categories. Matching is
// case-insensitive substring, first category in declaration order wins.
var fallbackKeywords = []struct {
	category fallbackCategory
	words    []string
}{
	{fallbackGreeting, []string{"hello", "hi there", "hey", "good morning", "good evening"}},
	{fallbackCode, []string{"error", "bug", "exception", "stack trace", "debug", "compile", "code"}},
	{fallbackQuestion, []string{"how do", "how does", "what is", "what are", "why does", "why is", "explain"}},
}

// topicKeywords are subject words worth echoing back in a templated reply,
// so canned answers still acknowledge what the student asked about.
var topicKeywords = []string{
	"neural network", "backpropagation", "gradient descent", "machine learning",
	"recursion", "algorithm", "database", "concurrency", "goroutine",
	"http", "api", "function", "variable", "loop", "array", "pointer",
}

// FallbackGenerator produces deterministic templated responses when no
// upstream model is reachable. Same prompt, same reply: no randomness, no
// network, no state.
type FallbackGenerator struct{}

// NewFallbackGenerator returns a ready generator.
func NewFallbackGenerator() *FallbackGenerator {
	return &FallbackGenerator{}
}

// Respond returns the canned reply for prompt.
//
// The reply is keyword-aware: the first recognized topic word is woven into
// the template so the response stays on subject even without a model.
func (g *FallbackGenerator) Respond(prompt string) string {
	lower := strings.ToLower(prompt)
	topic := g.detectTopic(lower)

	switch g.classify(lower) {
	case fallbackGreeting:
		return "Hello! I'm currently running in offline mode, so my replies are " +
			"limited, but I'm happy to help you study. What would you like to work on?"
	case fallbackCode:
		if topic != "" {
			return "I can't run a full analysis right now, but for " + topic + " issues " +
				"a good first step is to reproduce the problem with the smallest possible " +
				"input, then check your assumptions at each stage. Walk me through what " +
				"you expected versus what happened."
		}
		return "I can't run a full analysis right now. A good first step is to " +
			"reproduce the problem with the smallest possible input, then check your " +
			"assumptions at each stage. Walk me through what you expected versus what happened."
	case fallbackQuestion:
		if topic != "" {
			return "That's a solid question about " + topic + ". I'm in offline mode, " +
				"so here's the short version: start from the definition, work through one " +
				"concrete example by hand, and note where your intuition breaks. When the " +
				"full model is back I can go deeper."
		}
		return "That's a solid question. I'm in offline mode, so here's the short " +
			"version: start from the definition, work through one concrete example by " +
			"hand, and note where your intuition breaks. When the full model is back " +
			"I can go deeper."
	default:
		if topic != "" {
			return "I'm running without an upstream model at the moment, but let's keep " +
				"going on " + topic + ". Try restating the idea in your own words; that " +
				"usually reveals exactly which part needs attention."
		}
		return "I'm running without an upstream model at the moment, but let's keep " +
			"going. Try restating the idea in your own words; that usually reveals " +
			"exactly which part needs attention."
	}
}

func (g *FallbackGenerator) classify(lower string) fallbackCategory {
	for _, entry := range fallbackKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return entry.category
			}
		}
	}
	return fallbackDefault
}

func (g *FallbackGenerator) detectTopic(lower string) string {
	for _, k := range topicKeywords {
		if strings.Contains(lower, k) {
			return k
		}
	}
	return ""
}
