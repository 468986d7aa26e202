package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/internal/session"
	"github.com/MrWong99/roleplay/pkg/types"
)

func TestMemoryRepository_PrependsAndCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := session.NewMemoryRepository()

	first := &session.Session{ID: "a", Transcript: session.Transcript{{Speaker: types.SpeakerTrainee, Text: "hi"}}}
	second := &session.Session{ID: "b"}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first.Transcript[0].Text = "mutated after save"

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("List order = %v, want newest first", ids(list))
	}
	if list[1].Transcript[0].Text != "hi" {
		t.Errorf("stored entry shares memory with caller: %q", list[1].Transcript[0].Text)
	}

	list[1].Transcript[0].Text = "mutated after list"
	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Transcript[0].Text != "hi" {
		t.Errorf("List handed out stored memory: %q", got.Transcript[0].Text)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func ids(ss []*session.Session) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scores []int
		want   session.Summary
	}{
		{"empty", nil, session.Summary{}},
		{"single", []int{73}, session.Summary{Count: 1, AverageOverall: 73}},
		{"rounds half up", []int{70, 71}, session.Summary{Count: 2, AverageOverall: 71}},
		{"rounds down", []int{70, 70, 71}, session.Summary{Count: 3, AverageOverall: 70}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var ss []*session.Session
			for _, o := range tc.scores {
				ss = append(ss, &session.Session{Scores: scoring.Scores{Overall: o}})
			}
			if got := session.Summarize(ss); got != tc.want {
				t.Errorf("Summarize = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestTranscript_TextAndFilename(t *testing.T) {
	t.Parallel()

	tr := session.Transcript{
		{Speaker: types.SpeakerTrainee, Text: "How can I help?"},
		{Speaker: types.SpeakerClient, Text: "Show me the garden."},
	}
	want := "AGENT: How can I help?\nCLIENT: Show me the garden."
	if got := tr.Text(); got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
	if got := session.TranscriptFilename("abc"); got != "roleplay-transcript-abc.txt" {
		t.Errorf("TranscriptFilename = %q", got)
	}
	if got := (session.Transcript{}).Text(); got != "" {
		t.Errorf("empty Text = %q", got)
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	t.Parallel()

	conf := 0.9
	end := time.Now()
	s := &session.Session{
		ID:         "x",
		EndTime:    &end,
		Transcript: session.Transcript{{Speaker: types.SpeakerClient, Text: "hi", Confidence: &conf}},
		Feedback: types.Feedback{
			Strengths: []string{"a"},
			Narrative: &types.Narrative{ConversationFlow: "ok"},
		},
	}
	c := s.Clone()
	*c.EndTime = end.Add(time.Hour)
	*c.Transcript[0].Confidence = 0.1
	c.Feedback.Strengths[0] = "b"
	c.Feedback.Narrative.ConversationFlow = "changed"

	if !s.EndTime.Equal(end) || *s.Transcript[0].Confidence != 0.9 ||
		s.Feedback.Strengths[0] != "a" || s.Feedback.Narrative.ConversationFlow != "ok" {
		t.Errorf("Clone shares memory with original: %+v", s)
	}
	if (*session.Session)(nil).Clone() != nil {
		t.Error("nil Clone != nil")
	}
}

func TestSession_Results(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(14*time.Minute + 29*time.Second)
	s := &session.Session{
		StartTime: start,
		EndTime:   &end,
		Transcript: session.Transcript{
			{Speaker: types.SpeakerTrainee, Text: "a"},
			{Speaker: types.SpeakerClient, Text: "b"},
			{Speaker: types.SpeakerTrainee, Text: "c"},
		},
		Scores: scoring.Scores{Upselling: 90, Mirroring: 90, Tonality: 90, VAKUsage: 90, PersonalityAdaptation: 90}.Normalize(),
	}
	r := s.Results()
	if r.DurationMinutes != 14 {
		t.Errorf("DurationMinutes = %d, want 14", r.DurationMinutes)
	}
	if r.TraineeTurns != 2 || r.ClientTurns != 1 {
		t.Errorf("turns = %d/%d, want 2/1", r.TraineeTurns, r.ClientTurns)
	}
	if r.PerformanceLevel != "Excellent" {
		t.Errorf("PerformanceLevel = %q", r.PerformanceLevel)
	}
	if len(r.Metrics) != len(scoring.Metrics) {
		t.Errorf("Metrics rows = %d", len(r.Metrics))
	}
}
