package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/pkg/types"
)

func newScoreCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "score <transcript.json>",
		Short: "Score a saved transcript with the live rubric",
		Long: "Score reads a transcript, either a JSON array of utterances or an object\n" +
			"with a \"transcript\" array, folds it through the rubric and prints the\n" +
			"per-metric report. Use - to read from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcript, err := readTranscript(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			report := newScoreReport(transcript)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return report.write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func readTranscript(stdin io.Reader, path string) ([]types.Utterance, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var transcript []types.Utterance
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Transcript []types.Utterance `json:"transcript"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		transcript = wrapped.Transcript
	} else {
		err = json.Unmarshal(trimmed, &transcript)
	}
	if err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", path, err)
	}
	for i, u := range transcript {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("transcript entry %d: %w", i, err)
		}
	}
	return transcript, nil
}

type scoreReport struct {
	Overall          int           `json:"overall"`
	PerformanceLevel string        `json:"performanceLevel"`
	Utterances       int           `json:"utterances"`
	Metrics          []scoring.Row `json:"metrics"`
}

// newScoreReport folds transcript one utterance at a time, the way a live
// session scores it.
func newScoreReport(transcript []types.Utterance) scoreReport {
	s := scoring.New()
	var st scoring.State
	for i := range transcript {
		st, _ = s.Update(st, transcript[st.Seen:i+1])
	}
	return scoreReport{
		Overall:          st.Scores.Overall,
		PerformanceLevel: scoring.PerformanceLevel(st.Scores.Overall),
		Utterances:       len(transcript),
		Metrics:          scoring.Rows(st.Scores),
	}
}

func (r scoreReport) write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Overall: %d (%s), %d utterances\n\n", r.Overall, r.PerformanceLevel, r.Utterances); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tSCORE\tBAND\tTIP")
	for _, row := range r.Metrics {
		tip := ""
		if row.ShowTip {
			tip = row.Tip
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", row.Name, row.Score, row.Band, tip)
	}
	return tw.Flush()
}
