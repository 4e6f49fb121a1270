package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/domain"
)

func newFeedbackCmd(opts *rootOptions) *cobra.Command {
	var (
		features featureFlags
		fb       domain.Feedback
		label    string
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record an analyst verdict on a scored transaction",
		Example: `  heronctl feedback --label Valid --risk-score 0.82 --alert \
    --pattern-id ALERT_POS_AMOUNT_DEVIATION_POS_COUNTRY_RISK -f tx.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			heron, err := opts.open(cfg)
			if err != nil {
				return err
			}
			defer heron.Close()

			fs, err := features.load(cmd.InOrStdin(), requiredFeatures(heron))
			if err != nil {
				return err
			}
			fb.Features = fs
			fb.Feedback = domain.FeedbackLabel(label)

			result, err := heron.Analyzer.Feedback(cmd.Context(), &fb)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.output, result, func(w io.Writer) error {
				pattern := result.PatternID
				if pattern == "" {
					pattern = "(no pattern)"
				}
				_, err := fmt.Fprintf(w, "Recorded %s feedback for %s\n", result.Feedback, pattern)
				return err
			})
		},
	}

	features.register(cmd)
	cmd.Flags().StringVar(&label, "label", "", "Verdict: Valid or Invalid")
	cmd.Flags().Float64Var(&fb.RiskScore, "risk-score", 0, "Risk score shown to the analyst")
	cmd.Flags().BoolVar(&fb.AlertFlag, "alert", false, "Whether the transaction was flagged")
	cmd.Flags().StringVar(&fb.PatternID, "pattern-id", "", "Narrative pattern the verdict applies to")
	cmd.Flags().StringVar(&fb.Comment, "comment", "", "Free-text analyst comment")
	cmd.MarkFlagRequired("label")
	return cmd
}
