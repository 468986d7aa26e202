// Package types defines the wire types shared across the roleplay packages.
//
// These types are exchanged between the conversation channel, the session
// lifecycle manager, the analysis requester and the HTTP API. The JSON field
// names are the ones the browser console reads and writes, so renaming a tag
// is a wire-breaking change.
package types

import (
	"fmt"
	"time"
)

// Speaker identifies which side of the roleplay produced an utterance.
type Speaker string

const (
	// SpeakerTrainee is the human practising the sales conversation.
	SpeakerTrainee Speaker = "agent"

	// SpeakerClient is the simulated client on the far end of the channel.
	SpeakerClient Speaker = "client"
)

// IsValid reports whether s is one of the two known speakers.
func (s Speaker) IsValid() bool {
	return s == SpeakerTrainee || s == SpeakerClient
}

// Utterance is one transcribed turn of speech.
type Utterance struct {
	// Speaker is the side that produced the turn.
	Speaker Speaker `json:"speaker"`

	// Text is the transcribed content.
	Text string `json:"text"`

	// Timestamp is the observation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Confidence is the recogniser confidence in [0, 1], when reported.
	Confidence *float64 `json:"confidence,omitempty"`
}

// At returns Timestamp as a [time.Time].
func (u Utterance) At() time.Time {
	return time.UnixMilli(u.Timestamp)
}

// Validate checks the fields an utterance must carry before it can be
// appended to a transcript.
func (u Utterance) Validate() error {
	if !u.Speaker.IsValid() {
		return fmt.Errorf("utterance: unknown speaker %q", u.Speaker)
	}
	if u.Text == "" {
		return fmt.Errorf("utterance: text is required")
	}
	if u.Confidence != nil && (*u.Confidence < 0 || *u.Confidence > 1) {
		return fmt.Errorf("utterance: confidence %.2f is out of range [0, 1]", *u.Confidence)
	}
	return nil
}

// Suggestion is a concrete rewrite proposed by the deep analysis.
type Suggestion struct {
	Timestamp int64  `json:"timestamp"`
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
	Reason    string `json:"reason"`
}

// Narrative is the free-text part of a coaching report.
type Narrative struct {
	ConversationFlow      string `json:"conversationFlow"`
	LanguageQuality       string `json:"languageQuality"`
	EmotionalIntelligence string `json:"emotionalIntelligence"`
	ProfessionalTone      string `json:"professionalTone"`
}

// Feedback is the qualitative part of a session report. The three lists are
// never nil so that they always encode as JSON arrays.
type Feedback struct {
	Strengths    []string     `json:"strengths"`
	Improvements []string     `json:"improvements"`
	Suggestions  []Suggestion `json:"suggestions"`

	// Narrative is set once the deep analysis has returned.
	Narrative *Narrative `json:"analysis,omitempty"`
}

// EmptyFeedback returns a Feedback with empty, non-nil lists.
func EmptyFeedback() Feedback {
	return Feedback{
		Strengths:    []string{},
		Improvements: []string{},
		Suggestions:  []Suggestion{},
	}
}

// Normalize replaces nil lists with empty ones.
func (f Feedback) Normalize() Feedback {
	if f.Strengths == nil {
		f.Strengths = []string{}
	}
	if f.Improvements == nil {
		f.Improvements = []string{}
	}
	if f.Suggestions == nil {
		f.Suggestions = []Suggestion{}
	}
	return f
}

// Clone returns a deep copy of f.
func (f Feedback) Clone() Feedback {
	out := Feedback{
		Strengths:    append([]string{}, f.Strengths...),
		Improvements: append([]string{}, f.Improvements...),
		Suggestions:  append([]Suggestion{}, f.Suggestions...),
	}
	if f.Narrative != nil {
		n := *f.Narrative
		out.Narrative = &n
	}
	return out
}
