package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/roleplay/pkg/provider/llm"
	llmmock "github.com/MrWong99/roleplay/pkg/provider/llm/mock"
)

func reply(content string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestNewFailover_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewFailover(FailoverConfig{}); err == nil {
		t.Error("NewFailover without backends succeeded")
	}
	if _, err := NewFailover(FailoverConfig{}, Backend{Name: "openai"}); err == nil {
		t.Error("NewFailover with a nil provider succeeded")
	}
}

func TestFailover_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		primary       *llmmock.Provider
		secondary     *llmmock.Provider
		want          string
		wantSecondary int
	}{
		{
			name:          "primary answers",
			primary:       reply("from primary"),
			secondary:     reply("from secondary"),
			want:          "from primary",
			wantSecondary: 0,
		},
		{
			name:          "falls over to secondary",
			primary:       &llmmock.Provider{CompleteErr: errors.New("primary down")},
			secondary:     reply("from secondary"),
			want:          "from secondary",
			wantSecondary: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f, err := NewFailover(FailoverConfig{Breaker: BreakerConfig{MaxFailures: 3}},
				Backend{Name: "primary", Provider: tc.primary},
				Backend{Name: "secondary", Provider: tc.secondary},
			)
			if err != nil {
				t.Fatal(err)
			}
			req := llm.CompletionRequest{SystemPrompt: "coach", Messages: []llm.Message{{Role: "user", Content: "hi"}}}
			resp, err := f.Complete(context.Background(), req)
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tc.want {
				t.Errorf("content = %q, want %q", resp.Content, tc.want)
			}
			if n := len(tc.primary.Calls()); n != 1 {
				t.Errorf("primary called %d times, want 1", n)
			}
			if n := len(tc.secondary.Calls()); n != tc.wantSecondary {
				t.Errorf("secondary called %d times, want %d", n, tc.wantSecondary)
			}
			if calls := tc.primary.Calls(); calls[0].Req.SystemPrompt != "coach" {
				t.Errorf("request not forwarded: %+v", calls[0].Req)
			}
		})
	}
}

func TestFailover_AllFailed(t *testing.T) {
	t.Parallel()

	errA, errB := errors.New("a down"), errors.New("b down")
	f, err := NewFailover(FailoverConfig{},
		Backend{Name: "a", Provider: &llmmock.Provider{CompleteErr: errA}},
		Backend{Name: "b", Provider: &llmmock.Provider{CompleteErr: errB}},
	)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err = %v, want both backend errors joined", err)
	}
}

func TestFailover_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := reply("ok")
	f, err := NewFailover(FailoverConfig{Breaker: BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}},
		Backend{Name: "primary", Provider: primary},
		Backend{Name: "secondary", Provider: secondary},
	)
	if err != nil {
		t.Fatal(err)
	}

	for range 4 {
		if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if n := len(primary.Calls()); n != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", n)
	}
	if n := len(secondary.Calls()); n != 4 {
		t.Errorf("secondary called %d times, want 4", n)
	}

	states := f.States()
	if len(states) != 2 || states[0].State != StateOpen || states[1].State != StateClosed {
		t.Errorf("States = %+v, want primary open and secondary closed", states)
	}
	if !f.Available() {
		t.Error("Available = false with a closed secondary")
	}
}

func TestFailover_Unavailable(t *testing.T) {
	t.Parallel()

	f, err := NewFailover(FailoverConfig{Breaker: BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}},
		Backend{Name: "only", Provider: &llmmock.Provider{CompleteErr: errors.New("down")}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Available() {
		t.Fatal("Available = false before any call")
	}
	_, _ = f.Complete(context.Background(), llm.CompletionRequest{})
	if f.Available() {
		t.Error("Available = true with every breaker open")
	}
}

func TestFailover_StopsOnCancel(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	primary := &llmmock.Provider{Block: block}
	secondary := reply("late")
	f, err := NewFailover(FailoverConfig{Breaker: BreakerConfig{MaxFailures: 1}, CallTimeout: time.Minute},
		Backend{Name: "primary", Provider: primary},
		Backend{Name: "secondary", Provider: secondary},
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(primary.Calls()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	if _, err := f.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Errorf("secondary called %d times after cancellation", n)
	}
	if s := f.States()[0].State; s != StateClosed {
		t.Errorf("primary state = %v, want closed: a cancelled caller is not a failure", s)
	}
}

func TestFailover_HungPrimaryTimesOut(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	primary := &llmmock.Provider{Block: block}
	secondary := reply("from secondary")
	f, err := NewFailover(FailoverConfig{
		Breaker:     BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
		CallTimeout: 20 * time.Millisecond,
	},
		Backend{Name: "primary", Provider: primary},
		Backend{Name: "secondary", Provider: secondary},
	)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := f.Complete(ctx, llm.CompletionRequest{})
		cancel()
		if err != nil {
			t.Fatalf("call %d: Complete: %v", i, err)
		}
		if resp.Content != "from secondary" {
			t.Errorf("call %d: content = %q", i, resp.Content)
		}
	}
	if n := len(primary.Calls()); n != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", n)
	}
	if n := len(secondary.Calls()); n != 3 {
		t.Errorf("secondary called %d times, want 3", n)
	}
	if s := f.States()[0].State; s != StateOpen {
		t.Errorf("primary state = %v, want open after repeated timeouts", s)
	}
	if d, ok := secondary.Calls()[0].Ctx.Deadline(); !ok || time.Until(d) > 20*time.Millisecond {
		t.Errorf("secondary call deadline = %v (set %v), want the per-call timeout", d, ok)
	}
}
