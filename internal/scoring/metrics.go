package scoring

// MetricID names one of the five rubric sub-scores. The values double as
// JSON field names of [Scores].
type MetricID string

const (
	Upselling             MetricID = "upselling"
	Mirroring             MetricID = "mirroring"
	Tonality              MetricID = "tonality"
	VAKUsage              MetricID = "vakUsage"
	PersonalityAdaptation MetricID = "personalityAdaptation"
)

// Metric describes how a sub-score is presented. Every view renders metrics
// from [Metrics] so names and tips stay consistent between the live session
// panel, the results report and the CLI.
type Metric struct {
	ID          MetricID `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`

	// Tip is shown while the score sits below [TipThreshold].
	Tip string `json:"tip"`
}

// Metrics is the shared descriptor table, in display order.
var Metrics = []Metric{
	{
		ID:          Upselling,
		Name:        "Upselling",
		Description: "Identifying and presenting additional opportunities",
		Tip:         "Try mentioning additional value or investment opportunities",
	},
	{
		ID:          Mirroring,
		Name:        "Mirroring",
		Description: "Matching client communication style",
		Tip:         "Match your client's communication pace and style",
	},
	{
		ID:          Tonality,
		Name:        "Tonality",
		Description: "Voice modulation and emotional intelligence",
		Tip:         "Use more emotional language to connect with your client",
	},
	{
		ID:          VAKUsage,
		Name:        "VAK Language",
		Description: "Visual, Auditory, Kinesthetic language usage",
		Tip:         "Incorporate more sensory language (visual, auditory, kinesthetic)",
	},
	{
		ID:          PersonalityAdaptation,
		Name:        "Personality Match",
		Description: "Adapting to client personality type",
		Tip:         "Adapt your approach to match your client's personality",
	},
}

// Lookup returns the descriptor for id.
func Lookup(id MetricID) (Metric, bool) {
	for _, m := range Metrics {
		if m.ID == id {
			return m, true
		}
	}
	return Metric{}, false
}

// Band is the colour band a score is rendered in.
type Band string

const (
	BandGood Band = "good"
	BandFair Band = "fair"
	BandPoor Band = "poor"
)

const (
	// GoodThreshold is the lowest score rendered in [BandGood].
	GoodThreshold = 80

	// TipThreshold is the lowest score that no longer triggers a live tip.
	// It is also the lower edge of [BandFair].
	TipThreshold = 60
)

// BandFor returns the display band for score.
func BandFor(score int) Band {
	switch {
	case score >= GoodThreshold:
		return BandGood
	case score >= TipThreshold:
		return BandFair
	default:
		return BandPoor
	}
}

// PerformanceLevel labels an overall score on the results report.
func PerformanceLevel(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Good"
	case score >= 70:
		return "Fair"
	case score >= 60:
		return "Needs Improvement"
	default:
		return "Poor"
	}
}

// Row is a metric paired with its current score, ready for rendering.
type Row struct {
	Metric
	Score int  `json:"score"`
	Band  Band `json:"band"`

	// ShowTip reports whether the live tip applies to this score.
	ShowTip bool `json:"showTip"`
}

// Rows renders s through the descriptor table.
func Rows(s Scores) []Row {
	rows := make([]Row, 0, len(Metrics))
	for _, m := range Metrics {
		v := s.Get(m.ID)
		rows = append(rows, Row{
			Metric:  m,
			Score:   v,
			Band:    BandFor(v),
			ShowTip: v < TipThreshold,
		})
	}
	return rows
}

// Tips returns the live tips for every metric scoring below [TipThreshold].
func Tips(s Scores) []string {
	var tips []string
	for _, m := range Metrics {
		if s.Get(m.ID) < TipThreshold {
			tips = append(tips, m.Tip)
		}
	}
	return tips
}
