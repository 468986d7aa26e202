package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/roleplay/internal/config"
	"github.com/MrWong99/roleplay/internal/token"
	"github.com/MrWong99/roleplay/pkg/channel/relay"
	"github.com/MrWong99/roleplay/pkg/channel/sim"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleTranscript = `[
  {"speaker":"agent","text":"Welcome! I'm excited to show you this premium home.","timestamp":1},
  {"speaker":"client","text":"Great, I would like to see the garden first.","timestamp":2}
]`

func TestScoreCmd_Table(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "t.json", sampleTranscript)
	out, err := execute(t, "score", path)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for _, want := range []string{"Overall:", "2 utterances", "METRIC", "Upselling", "VAK Language", "Personality Match"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestScoreCmd_JSONMatchesLiveReplay(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "t.json", `{"transcript":`+sampleTranscript+`}`)
	out, err := execute(t, "score", "--json", path)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	var r scoreReport
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if r.Utterances != 2 || len(r.Metrics) != 5 {
		t.Fatalf("report = %+v", r)
	}

	// Two passes. Mirroring only fires once the client has spoken.
	want := map[string]int{"upselling": 10, "tonality": 8, "vakUsage": 6, "mirroring": 3, "personalityAdaptation": 0}
	for _, row := range r.Metrics {
		if row.Score != want[string(row.ID)] {
			t.Errorf("%s = %d, want %d", row.ID, row.Score, want[string(row.ID)])
		}
	}
	if r.Overall != 5 {
		t.Errorf("overall = %d, want 5", r.Overall)
	}
}

func TestScoreCmd_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "hello"},
		{"unknown speaker", `[{"speaker":"narrator","text":"x"}]`},
		{"empty text", `[{"speaker":"agent","text":""}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := execute(t, "score", writeFile(t, "t.json", tc.content)); err == nil {
				t.Error("score succeeded")
			}
		})
	}
	if _, err := execute(t, "score", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("score of missing file succeeded")
	}
}

func TestTokenCmd(t *testing.T) {
	t.Parallel()

	cfgPath := writeFile(t, "roleplay.yaml", `
channel:
  mode: none
  url: wss://lk.test
  api_key: cli-key
  api_secret: cli-secret
`)
	envPath := filepath.Join(t.TempDir(), "absent.env")
	out, err := execute(t, "--config", cfgPath, "--env-file", envPath, "token", "--room", "practice", "--participant", "coach")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	var g token.Grant
	if err := json.Unmarshal([]byte(out), &g); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	claims, err := token.Verify(g.Token, "cli-secret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Video.Room != "practice" || claims.Subject != "coach" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := execute(t, "--config", cfgPath, "--env-file", envPath, "token", "--room", "practice"); err == nil {
		t.Error("token without --participant succeeded")
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if got := reg.LLMNames(); !slices.Equal(got, slices.Sorted(slices.Values(config.ValidProviderNames))) {
		t.Errorf("LLMNames = %v, want %v", got, config.ValidProviderNames)
	}

	d, err := reg.CreateChannel(config.ChannelConfig{Mode: config.ChannelRelay})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if _, ok := d.(*relay.Dialer); !ok {
		t.Errorf("relay dialer is %T", d)
	}
	d, err = reg.CreateChannel(config.ChannelConfig{Mode: config.ChannelSimulate})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if _, ok := d.(*sim.Dialer); !ok {
		t.Errorf("simulate dialer is %T", d)
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai without api key succeeded")
	}
	p, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test"})
	if err != nil || p == nil {
		t.Errorf("openai: %v", err)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cfg := &config.Config{
		Channel:  config.ChannelConfig{Mode: config.ChannelNone},
		Analysis: config.AnalysisConfig{Provider: config.ProviderEntry{Name: "carrier-pigeon"}},
	}
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM != nil || ps.Dialer != nil {
		t.Errorf("providers = %+v, want none", ps)
	}

	cfg.Channel.Mode = config.ChannelSimulate
	cfg.Analysis.Provider = config.ProviderEntry{Name: "openai", APIKey: "sk-test"}
	ps, err = buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM == nil || ps.Dialer == nil {
		t.Errorf("providers = %+v, want llm and dialer", ps)
	}

	cfg.Analysis.Fallbacks = []config.ProviderEntry{
		{Name: "ollama", BaseURL: "http://127.0.0.1:11434", Model: "llama3"},
		{Name: "carrier-pigeon"},
	}
	ps, err = buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders with fallbacks: %v", err)
	}
	if len(ps.Fallbacks) != 1 || ps.Fallbacks[0].Name != "ollama" {
		t.Errorf("Fallbacks = %+v, want ollama only", ps.Fallbacks)
	}

	cfg.Analysis.Fallbacks = nil
	cfg.Analysis.Provider = config.ProviderEntry{Name: "openai"}
	if _, err := buildProviders(cfg, reg); err == nil {
		t.Error("buildProviders with keyless openai succeeded")
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"organization": "org-1", "n": 3}
	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("organization = %q", got)
	}
	if got := optString(opts, "n"); got != "" {
		t.Errorf("non-string = %q", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("nil map = %q", got)
	}
}
