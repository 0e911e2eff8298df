// Package provider defines the inference capability consumed by the
// analysis engine and a concrete OpenAI-compatible client.
//
// The engine is provider-agnostic: it requires only the ability to
// generate text for a prompt or a message sequence. Providers that omit
// usage or grounding data are tolerated.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a conversation message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options controls a single generation request.
type Options struct {
	// Model is the provider-specific model identifier.
	Model string

	// Temperature controls sampling randomness (0 uses provider default).
	Temperature float64

	// MaxTokens limits the response length (0 uses provider default).
	MaxTokens int

	// WebSearch requests web-search grounding. Providers that do not
	// support grounding ignore it and return Response.Grounding nil;
	// OpenAIClient is one of them.
	WebSearch bool
}

// Usage reports token consumption for a generation, when available.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Grounding carries web-search grounding metadata, when available.
type Grounding struct {
	Queries []string
	Sources []string
}

// Response is the result of a generation request.
type Response struct {
	// Text is the generated text.
	Text string

	// Usage is token accounting, nil if the provider omits it.
	Usage *Usage

	// Grounding is web-search metadata, nil if not grounded.
	Grounding *Grounding
}

// Provider is the inference capability the engine consumes.
type Provider interface {
	// Generate produces text for a single prompt.
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)

	// GenerateConversation produces text for a message sequence.
	GenerateConversation(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// Error wraps a provider failure with its HTTP-level status class so
// callers can decide whether a fallback retry is warranted.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return "provider: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a 5xx-class or internal provider
// failure, the only class eligible for a fallback-model retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *Error
	if errors.As(err, &pe) {
		if pe.StatusCode >= 500 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "internal") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded")
}
