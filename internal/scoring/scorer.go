// Package scoring implements the keyword rubric that grades a roleplay
// transcript while the conversation is still running.
//
// The scorer is a pure reducer over the append-only transcript:
//
//	next, pass := scorer.Update(prev, transcript[prev.Seen:])
//
// Each call is one scoring pass. Rules look at a running [Tally] of the whole
// transcript, so folding a transcript one utterance at a time yields the same
// scores as re-scanning it after every append.
package scoring

import (
	"math"
	"math/bits"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/roleplay/pkg/types"
)

const (
	upsellReward    = 5
	upsellPenalty   = -2
	mirroringReward = 3
	tonalityReward  = 4
	vakReward       = 3

	// upsellPenaltyAfter is the transcript length beyond which a missing
	// upselling attempt starts to cost points.
	upsellPenaltyAfter = 5

	// mirroringTolerance is the maximum difference, in characters, between
	// the mean trainee and mean client utterance length.
	mirroringTolerance = 20.0
)

// Notices emitted by the rules.
const (
	NoticeUpsell       = "Great upselling attempt!"
	NoticeUpsellMissed = "Consider mentioning additional value opportunities"
	NoticeMirroring    = "Good communication style matching!"
	NoticeTonality     = "Excellent emotional intelligence!"
	NoticeVAK          = "Good use of sensory language!"
)

var (
	upsellKeywords   = []string{"upgrade", "premium", "additional", "investment", "value", "equity"}
	emotionKeywords  = []string{"excited", "thrilled", "concerned", "worried", "confident", "sure"}
	visualWords      = []string{"see", "look", "picture", "imagine", "visualize", "show"}
	auditoryWords    = []string{"hear", "listen", "sound", "tell", "speak", "say"}
	kinestheticWords = []string{"feel", "touch", "grasp", "hold", "experience", "sense"}

	// vakWords is visual, auditory and kinesthetic in that order. The index
	// of a word is its bit in Tally.vakSeen.
	vakWords = concat(visualWords, auditoryWords, kinestheticWords)
)

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// Scores holds the five sub-scores and the derived overall score.
type Scores struct {
	Overall               int `json:"overall"`
	Upselling             int `json:"upselling"`
	Mirroring             int `json:"mirroring"`
	Tonality              int `json:"tonality"`
	VAKUsage              int `json:"vakUsage"`
	PersonalityAdaptation int `json:"personalityAdaptation"`
}

// Get returns the sub-score for id.
func (s Scores) Get(id MetricID) int {
	switch id {
	case Upselling:
		return s.Upselling
	case Mirroring:
		return s.Mirroring
	case Tonality:
		return s.Tonality
	case VAKUsage:
		return s.VAKUsage
	case PersonalityAdaptation:
		return s.PersonalityAdaptation
	}
	return 0
}

// Normalize clamps every sub-score to [0, 100] and recomputes Overall as the
// rounded mean of the five sub-scores.
func (s Scores) Normalize() Scores {
	s.Upselling = clamp(s.Upselling)
	s.Mirroring = clamp(s.Mirroring)
	s.Tonality = clamp(s.Tonality)
	s.VAKUsage = clamp(s.VAKUsage)
	s.PersonalityAdaptation = clamp(s.PersonalityAdaptation)
	sum := s.Upselling + s.Mirroring + s.Tonality + s.VAKUsage + s.PersonalityAdaptation
	s.Overall = int(math.Floor(float64(sum)/5 + 0.5))
	return s
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}

// Tally is the running summary of every utterance folded so far. It is a
// plain value; copying it is enough to snapshot it.
type Tally struct {
	// Utterances is the total number of utterances folded.
	Utterances int

	TraineeTurns int
	ClientTurns  int

	// TraineeChars and ClientChars sum utterance lengths in runes.
	TraineeChars int
	ClientChars  int

	// UpsellTurns counts trainee utterances containing an upselling keyword.
	UpsellTurns int

	// EmotionTurns counts trainee utterances containing an emotional keyword.
	EmotionTurns int

	vakSeen uint32
}

// Add folds one utterance into the tally.
func (t Tally) Add(u types.Utterance) Tally {
	t.Utterances++
	n := utf8.RuneCountInString(u.Text)
	if u.Speaker != types.SpeakerTrainee {
		t.ClientTurns++
		t.ClientChars += n
		return t
	}

	t.TraineeTurns++
	t.TraineeChars += n
	text := strings.ToLower(u.Text)
	if containsAny(text, upsellKeywords) {
		t.UpsellTurns++
	}
	if containsAny(text, emotionKeywords) {
		t.EmotionTurns++
	}
	for i, w := range vakWords {
		if strings.Contains(text, w) {
			t.vakSeen |= 1 << i
		}
	}
	return t
}

// VAKWords returns the number of distinct sensory words the trainee has used.
func (t Tally) VAKWords() int {
	return bits.OnesCount32(t.vakSeen)
}

// MeanLengths returns the mean utterance length per speaker. ok is false
// until both speakers have spoken.
func (t Tally) MeanLengths() (trainee, client float64, ok bool) {
	if t.TraineeTurns == 0 || t.ClientTurns == 0 {
		return 0, 0, false
	}
	return float64(t.TraineeChars) / float64(t.TraineeTurns),
		float64(t.ClientChars) / float64(t.ClientTurns), true
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// State is the reducer state carried between passes.
type State struct {
	Scores Scores
	Tally  Tally

	// Seen is the number of transcript entries already folded. The next
	// suffix starts at this index.
	Seen int
}

// Pass is the outcome of one scoring pass.
type Pass struct {
	Scores Scores

	// Changed reports whether at least one sub-score moved.
	Changed bool

	// Notices are the short messages of the rules that fired. Empty when the
	// pass changed no sub-score.
	Notices []string
}

// PersonalityRule computes the next personality-adaptation score from the
// running tally and the previous score. The notice is optional.
type PersonalityRule func(t Tally, prev int) (next int, notice string)

// Option configures a [Scorer].
type Option func(*Scorer)

// WithPersonalityRule installs a rule for the personality-adaptation score.
// Without one the score is left untouched by every pass.
func WithPersonalityRule(r PersonalityRule) Option {
	return func(s *Scorer) { s.personality = r }
}

// Scorer applies the rubric. The zero value is ready to use.
type Scorer struct {
	personality PersonalityRule
}

// New returns a Scorer configured with opts.
func New(opts ...Option) *Scorer {
	s := &Scorer{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Update folds suffix into prev and runs one scoring pass. An empty suffix
// is not a pass: prev is returned unchanged with no notices. prev is never
// modified.
func (s *Scorer) Update(prev State, suffix []types.Utterance) (State, Pass) {
	if len(suffix) == 0 {
		return prev, Pass{Scores: prev.Scores}
	}

	next := prev
	for _, u := range suffix {
		next.Tally = next.Tally.Add(u)
	}
	next.Seen += len(suffix)

	t := next.Tally
	sc := prev.Scores
	var notices []string

	switch {
	case t.UpsellTurns > 0:
		sc.Upselling += upsellReward
		notices = append(notices, NoticeUpsell)
	case t.Utterances > upsellPenaltyAfter:
		sc.Upselling += upsellPenalty
		notices = append(notices, NoticeUpsellMissed)
	}

	if trainee, client, ok := t.MeanLengths(); ok && math.Abs(trainee-client) < mirroringTolerance {
		sc.Mirroring += mirroringReward
		notices = append(notices, NoticeMirroring)
	}

	if t.EmotionTurns > 0 {
		sc.Tonality += tonalityReward
		notices = append(notices, NoticeTonality)
	}

	if t.VAKWords() > 0 {
		sc.VAKUsage += vakReward
		notices = append(notices, NoticeVAK)
	}

	if s != nil && s.personality != nil {
		v, notice := s.personality(t, sc.PersonalityAdaptation)
		sc.PersonalityAdaptation = v
		if notice != "" {
			notices = append(notices, notice)
		}
	}

	sc = sc.Normalize()
	next.Scores = sc

	changed := !sameSubScores(sc, prev.Scores)
	if !changed {
		notices = nil
	}
	return next, Pass{Scores: sc, Changed: changed, Notices: notices}
}

func sameSubScores(a, b Scores) bool {
	return a.Upselling == b.Upselling &&
		a.Mirroring == b.Mirroring &&
		a.Tonality == b.Tonality &&
		a.VAKUsage == b.VAKUsage &&
		a.PersonalityAdaptation == b.PersonalityAdaptation
}
