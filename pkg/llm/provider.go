// Package llm provides the async text-completion contract the agents
// depend on, with providers for Dify, OpenAI, and Gemini backends.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider defines the interface for LLM backends. Implementations must be
// safe for sequential reuse; the core never issues overlapping calls.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Chat sends a query and returns the model's answer.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single chat-completion request.
type Request struct {
	// Query is the user-visible question or instruction.
	Query string

	// User identifies the calling agent (used for provider-side attribution).
	User string

	// Inputs carries prompt variables; Inputs["system"] is the system prompt.
	Inputs map[string]string

	// Model optionally overrides the provider's default model.
	Model string

	// Temperature controls randomness where the backend honors it.
	Temperature float64
}

// Response is a completed chat turn.
type Response struct {
	Answer         string
	ConversationID string
	Metadata       map[string]any
}

// System returns the system prompt from the request inputs.
func (r *Request) System() string {
	if r.Inputs == nil {
		return ""
	}
	return r.Inputs["system"]
}

// Error represents a failure reported by an LLM backend: a transport error,
// a non-200 response, or an explicit error field in the payload.
type Error struct {
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsLLMError reports whether err originates from an LLM backend.
func IsLLMError(err error) bool {
	var le *Error
	return errors.As(err, &le)
}
