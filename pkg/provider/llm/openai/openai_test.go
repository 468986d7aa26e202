package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/roleplay/pkg/provider/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", p.Model(), DefaultModel)
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "coach"})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: OfSystem=%v err=%v", sys.OfSystem, err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "hi"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: OfUser=%v err=%v", usr.OfUser, err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "hello"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: OfAssistant=%v err=%v", asst.OfAssistant, err)
	}
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Error("expected error for unsupported role")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test", "gpt-4")
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a coach.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Analyze this."}},
		Temperature:  0.7,
		MaxTokens:    2000,
	})
	if err != nil {
		t.Fatalf("buildParams() error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if got := params.Temperature.Value; got != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", got)
	}
	if got := params.MaxTokens.Value; got != 2000 {
		t.Errorf("MaxTokens = %v, want 2000", got)
	}

	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Error("expected error for request without messages")
	}
}

func TestComplete_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1718000000,
			"model": "gpt-4-0613",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"strengths\":[]}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "gpt-4", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != `{"strengths":[]}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Model != "gpt-4-0613" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if got["model"] != "gpt-4" {
		t.Errorf("request model = %v, want gpt-4", got["model"])
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("sk-test", "gpt-4", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error from upstream 500")
	}
}
