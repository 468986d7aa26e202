// Package session owns the roleplay session lifecycle: setup, the live
// conversation with its running scores, and the archived result.
//
// A process runs a single [Manager]. It moves one session at a time through
// [PhaseSetup], [PhaseActive] and [PhaseEnded], appends utterances to the
// transcript, folds them through the scorer and requests the deep analysis
// once the conversation is over. Finished sessions are archived in a
// [Repository].
package session

import (
	"math"
	"strings"
	"time"

	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/pkg/types"
)

// Phase is the lifecycle state of the manager.
type Phase string

const (
	PhaseSetup  Phase = "setup"
	PhaseActive Phase = "active"
	PhaseEnded  Phase = "ended"
)

// Transcript is the ordered utterance log of a session.
type Transcript []types.Utterance

// Clone returns a copy that shares no memory with t.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	for i, u := range t {
		if u.Confidence != nil {
			c := *u.Confidence
			u.Confidence = &c
		}
		out[i] = u
	}
	return out
}

// Turns counts utterances per speaker.
func (t Transcript) Turns() (trainee, client int) {
	for _, u := range t {
		if u.Speaker == types.SpeakerTrainee {
			trainee++
		} else {
			client++
		}
	}
	return trainee, client
}

// Text renders t as "SPEAKER: text" lines, the transcript download format.
func (t Transcript) Text() string {
	lines := make([]string, len(t))
	for i, u := range t {
		lines[i] = strings.ToUpper(string(u.Speaker)) + ": " + u.Text
	}
	return strings.Join(lines, "\n")
}

// TranscriptFilename is the download name of a session transcript.
func TranscriptFilename(id string) string {
	return "roleplay-transcript-" + id + ".txt"
}

// Session is one roleplay conversation.
type Session struct {
	ID         string     `json:"id"`
	Scenario   string     `json:"scenario"`
	ClientType string     `json:"clientType"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Transcript Transcript `json:"transcript"`

	Scores   scoring.Scores `json:"scores"`
	Feedback types.Feedback `json:"feedback"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	out.Transcript = s.Transcript.Clone()
	out.Feedback = s.Feedback.Clone()
	return &out
}

// Duration is the time between start and end, or zero while the session is
// still running.
func (s *Session) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Results is the summary shown on the results report.
type Results struct {
	// DurationMinutes is the session length rounded to whole minutes.
	DurationMinutes  int           `json:"durationMinutes"`
	TraineeTurns     int           `json:"traineeTurns"`
	ClientTurns      int           `json:"clientTurns"`
	PerformanceLevel string        `json:"performanceLevel"`
	Metrics          []scoring.Row `json:"metrics"`
}

// Results derives the results report for s.
func (s *Session) Results() Results {
	trainee, client := s.Transcript.Turns()
	return Results{
		DurationMinutes:  int(math.Round(s.Duration().Minutes())),
		TraineeTurns:     trainee,
		ClientTurns:      client,
		PerformanceLevel: scoring.PerformanceLevel(s.Scores.Overall),
		Metrics:          scoring.Rows(s.Scores),
	}
}
