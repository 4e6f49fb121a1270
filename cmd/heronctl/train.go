package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/training"
)

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var (
		dataPath  string
		modelPath string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the risk model and write the bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if dataPath != "" {
				cfg.DataPath = dataPath
			}
			if modelPath != "" {
				cfg.ModelPath = modelPath
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Threshold = threshold
			}

			heron, err := opts.open(cfg)
			if err != nil {
				return err
			}
			defer heron.Close()

			report, err := training.New(cfg, heron.Audit, training.WithLogger(opts.logger)).Run(cmd.Context())
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), opts.output, report, func(w io.Writer) error {
				_, err := io.WriteString(w, training.FormatReport(report))
				return err
			})
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "", "Training CSV (defaults to data_path)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Bundle output path (defaults to model_path)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Decision threshold stored in the bundle (defaults to threshold)")
	return cmd
}
