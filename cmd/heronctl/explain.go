package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

const defaultBarWidth = 30

func newExplainCmd(opts *rootOptions) *cobra.Command {
	var (
		features featureFlags
		id       string
		width    int
	)

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Score one transaction and explain the result",
		Example: `  heronctl explain --feature transaction_amount=6000 --feature amount_deviation=3500 \
    --feature transaction_frequency=4 --feature country_risk=0.5 --feature customer_age=35
  heronctl explain -f tx.json -o json`,
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

			decision, err := heron.Analyzer.Analyze(cmd.Context(), &pipeline.Request{ID: id, Features: fs})
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.output, decision, func(w io.Writer) error {
				return writeDecision(w, decision, width)
			})
		},
	}

	features.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Decision ID (generated when empty)")
	cmd.Flags().IntVar(&width, "width", defaultBarWidth, "Width of the contribution bars")
	return cmd
}

func writeDecision(w io.Writer, d *domain.Decision, width int) error {
	exp := d.Explanation

	verdict := "no alert"
	if exp.AlertFlag {
		verdict = "ALERT"
	}
	fmt.Fprintf(w, "Decision   %s\n", d.ID)
	fmt.Fprintf(w, "Risk       %.4f  %s band  %s  (threshold %.2f)\n", exp.RiskScore, exp.RiskBand, verdict, exp.Threshold)
	if exp.OODFlag {
		fmt.Fprintf(w, "Out of range  %s\n", strings.Join(exp.OODFeatures, ", "))
	}
	if d.Cached {
		fmt.Fprintln(w, "Cached     yes")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimRight(d.Narrative.Text, "\n"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Contributions")
	writeBars(w, exp.TopFeatures, width)

	if len(d.Escalations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Escalations")
		for _, e := range d.Escalations {
			fmt.Fprintf(w, "  %-14s %-8s %s\n", e.Queue, e.Severity, e.Reason)
		}
	}
	return nil
}

// writeBars draws one bar per contribution, scaled to the largest magnitude.
func writeBars(w io.Writer, top []domain.Contribution, width int) {
	if width <= 0 {
		width = defaultBarWidth
	}

	nameWidth, largest := 0, 0.0
	for _, c := range top {
		nameWidth = max(nameWidth, len(c.Feature))
		largest = max(largest, math.Abs(c.Contribution))
	}

	for _, c := range top {
		n := 0
		if largest > 0 {
			n = int(math.Round(math.Abs(c.Contribution) / largest * float64(width)))
		}
		sign := " "
		switch {
		case c.Contribution > 0:
			sign = "+"
		case c.Contribution < 0:
			sign = "-"
		}
		fmt.Fprintf(w, "  %-*s %s %-*s %.4f\n", nameWidth, c.Feature, sign, width, strings.Repeat("#", n), math.Abs(c.Contribution))
	}
}
