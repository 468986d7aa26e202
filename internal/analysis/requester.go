// Package analysis requests the post-session coaching report from a language
// model and decodes it into structured feedback.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/pkg/provider/llm"
	"github.com/MrWong99/roleplay/pkg/types"
)

// Request defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultCacheTTL    = 30 * time.Minute
)

var (
	// ErrNoProvider is returned when no language model is configured.
	ErrNoProvider = errors.New("analysis: no provider configured")

	// ErrEmptyResponse is returned when the model produced no content.
	ErrEmptyResponse = errors.New("analysis: empty response")

	// ErrUnparseable is returned when the reply holds no decodable JSON report.
	ErrUnparseable = errors.New("analysis: unparseable response")
)

// Request is the input of one analysis. The JSON shape is the body of
// POST /api/analyze.
type Request struct {
	Transcript []types.Utterance `json:"transcript"`
	Scenario   string            `json:"scenario"`
	ClientType string            `json:"clientType"`
}

// Result is the decoded coaching report.
type Result struct {
	// Scores is the model's own rubric estimate. Overall is derived locally.
	Scores       scoring.Scores     `json:"scores"`
	Strengths    []string           `json:"strengths"`
	Improvements []string           `json:"improvements"`
	Suggestions  []types.Suggestion `json:"suggestions"`
	Analysis     *types.Narrative   `json:"analysis,omitempty"`
}

// Feedback returns the qualitative part of r as session feedback.
func (r *Result) Feedback() types.Feedback {
	return types.Feedback{
		Strengths:    r.Strengths,
		Improvements: r.Improvements,
		Suggestions:  r.Suggestions,
		Narrative:    r.Analysis,
	}.Normalize().Clone()
}

func (r *Result) clone() *Result {
	fb := r.Feedback()
	return &Result{
		Scores:       r.Scores,
		Strengths:    fb.Strengths,
		Improvements: fb.Improvements,
		Suggestions:  fb.Suggestions,
		Analysis:     fb.Narrative,
	}
}

// Option configures a [Requester].
type Option func(*Requester)

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(r *Requester) { r.temperature = t }
}

// WithMaxTokens overrides [DefaultMaxTokens].
func WithMaxTokens(n int) Option {
	return func(r *Requester) { r.maxTokens = n }
}

// WithTimeout bounds each upstream call. Zero leaves the caller's deadline
// in charge.
func WithTimeout(d time.Duration) Option {
	return func(r *Requester) { r.timeout = d }
}

// WithCacheTTL sets how long successful results are reused. A non-positive
// TTL disables the cache.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Requester) { r.cacheTTL = d }
}

// WithMetrics records request outcomes into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Requester) { r.metrics = m }
}

// Requester turns transcripts into coaching reports. It is safe for
// concurrent use.
type Requester struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	timeout     time.Duration
	cacheTTL    time.Duration
	cache       *cache.Cache
	metrics     *observe.Metrics
}

// New returns a Requester backed by provider. A nil provider is allowed;
// every call then fails with [ErrNoProvider].
func New(provider llm.Provider, opts ...Option) *Requester {
	r := &Requester{
		provider:    provider,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		cacheTTL:    DefaultCacheTTL,
	}
	for _, o := range opts {
		o(r)
	}
	if r.cacheTTL > 0 {
		r.cache = cache.New(r.cacheTTL, 2*r.cacheTTL)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Configured reports whether a provider is available.
func (r *Requester) Configured() bool {
	return r != nil && r.provider != nil
}

// Analyze builds the coaching prompt for req, calls the model and decodes the
// reply.
func (r *Requester) Analyze(ctx context.Context, req Request) (res *Result, err error) {
	if !r.Configured() {
		return nil, ErrNoProvider
	}

	key := cacheKey(req)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(*Result).clone(), nil
		}
	}

	ctx, span := observe.StartSpan(ctx, "analysis.Analyze",
		trace.WithAttributes(
			attribute.Int("transcript.length", len(req.Transcript)),
			attribute.String("client_type", req.ClientType),
		),
	)
	start := time.Now()
	defer func() {
		r.metrics.RecordAnalysis(ctx, status(err), time.Since(start).Seconds())
		observe.EndSpan(span, err)
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(req)}},
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, ErrEmptyResponse
	}

	res, err = Parse(resp.Content)
	if err != nil {
		observe.Logger(ctx).Warn("analysis reply not decodable", "err", err, "model", resp.Model)
		return nil, err
	}
	observe.Logger(ctx).Debug("analysis complete",
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)

	if r.cache != nil {
		r.cache.SetDefault(key, res.clone())
	}
	return res, nil
}

// Parse decodes a model reply. Text around the outermost JSON object, such as
// a markdown code fence, is ignored.
func Parse(content string) (*Result, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrUnparseable)
	}

	var res Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if res.Strengths == nil {
		res.Strengths = []string{}
	}
	if res.Improvements == nil {
		res.Improvements = []string{}
	}
	if res.Suggestions == nil {
		res.Suggestions = []types.Suggestion{}
	}
	res.Scores = res.Scores.Normalize()
	return &res, nil
}

func cacheKey(req Request) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func status(err error) string {
	switch {
	case err == nil:
		return observe.StatusOK
	case errors.Is(err, ErrUnparseable):
		return "unparseable"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return observe.StatusError
	}
}
