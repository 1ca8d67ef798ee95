package llm

import (
	"strings"
	"testing"
)

func TestFallbackGenerator_Deterministic(t *testing.T) {
	t.Parallel()

	g := NewFallbackGenerator()
	prompt := "Why does my recursion blow the stack?"
	if g.Respond(prompt) != g.Respond(prompt) {
		t.Error("fallback responses must be deterministic for the same prompt")
	}
}

func TestFallbackGenerator_EchoesDetectedTopic(t *testing.T) {
	t.Parallel()

	g := NewFallbackGenerator()
	got := g.Respond("Can you explain backpropagation and gradient descent?")
	if got == "" {
		t.Fatal("fallback response must never be empty")
	}
	if !strings.Contains(got, "backpropagation") {
		t.Errorf("response should echo the detected topic, got: %q", got)
	}
}

func TestFallbackGenerator_Greeting(t *testing.T) {
	t.Parallel()

	g := NewFallbackGenerator()
	got := g.Respond("Hello! Anyone home?")
	if !strings.Contains(got, "offline mode") {
		t.Errorf("greeting reply should disclose offline mode, got: %q", got)
	}
}

func TestFallbackGenerator_CodeCategory(t *testing.T) {
	t.Parallel()

	g := NewFallbackGenerator()
	got := g.Respond("My build fails with a weird compile error")
	if !strings.Contains(got, "reproduce") {
		t.Errorf("code-shaped prompts should get debugging guidance, got: %q", got)
	}
}

func TestFallbackGenerator_DefaultCategory(t *testing.T) {
	t.Parallel()

	g := NewFallbackGenerator()
	got := g.Respond("Tell me something interesting")
	if got == "" {
		t.Fatal("default category must still produce a reply")
	}
	if !strings.Contains(got, "restating") {
		t.Errorf("expected the default template, got: %q", got)
	}
}
