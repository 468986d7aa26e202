// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go, so the coaching report can be produced
// by Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq or a local llama.cpp
// server instead of OpenAI.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/roleplay/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// backends maps the supported backend names to their any-llm-go constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the supported backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// New creates a Provider for the named backend and model. opts are passed
// to the any-llm-go constructor (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL,
// ...). Without an API key option the backend reads its usual environment
// variable, such as ANTHROPIC_API_KEY.
func New(backend string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	ctor, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	result := &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
		Model:   p.model,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

var _ llm.Provider = (*Provider)(nil)
