// Package llm defines the Provider interface for the language-model backends
// that produce the post-session coaching report.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) behind a single blocking completion call, so the
// analysis requester never couples to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the reply.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means use the
	// provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction. Providers without
	// a dedicated system field prepend it as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is the full reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Model is the model that served the request, as reported by the backend.
	Model string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It returns
	// promptly with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
