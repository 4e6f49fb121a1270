package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/domain"
)

const (
	sourceFile   = "file"
	sourceMirror = "mirror"

	defaultEventLimit = 20
)

// summaryKeys are shown in the text listing, in this order, when present.
var summaryKeys = []string{
	"decision_id", "risk_score", "risk_band", "alert_flag", "feedback",
	"pattern_id", "threshold", "accuracy", "training_data_version", "error",
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		eventType string
		limit     int
		source    string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.EventFilter{EventType: domain.EventType(eventType), Limit: limit}
			if eventType != "" && !filter.EventType.Known() {
				return fmt.Errorf("unknown event type %q", eventType)
			}
			if limit <= 0 {
				return fmt.Errorf("limit must be positive")
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}

			var events []domain.AuditEvent
			switch source {
			case sourceFile:
				events, err = readLog(cfg.LogPath, filter)
			case sourceMirror:
				if !cfg.Audit.MirrorToRepository {
					return fmt.Errorf("audit mirror is disabled (set audit.mirror_to_repository)")
				}
				heron, openErr := opts.open(cfg)
				if openErr != nil {
					return openErr
				}
				defer heron.Close()

				var stored []*domain.AuditEvent
				stored, err = heron.Repo.ListEvents(cmd.Context(), filter)
				for _, e := range stored {
					events = append(events, *e)
				}
			default:
				return fmt.Errorf("unknown source %q (want file or mirror)", source)
			}
			if err != nil {
				return err
			}
			if events == nil {
				events = []domain.AuditEvent{}
			}

			return render(cmd.OutOrStdout(), opts.output, events, func(w io.Writer) error {
				return writeEvents(w, events)
			})
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type")
	cmd.Flags().IntVar(&limit, "limit", defaultEventLimit, "Maximum number of events")
	cmd.Flags().StringVar(&source, "source", sourceFile, "Read from the audit log file or the SQL mirror")
	return cmd
}

// readLog filters the JSON-lines log, newest first. A missing log has no events.
func readLog(path string, filter domain.EventFilter) ([]domain.AuditEvent, error) {
	all, err := audit.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []domain.AuditEvent
	for i := len(all) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		if filter.EventType != "" && all[i].EventType != filter.EventType {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func writeEvents(w io.Writer, events []domain.AuditEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTYPE\tSUMMARY")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp, e.EventType, summarize(e.Data))
	}
	return tw.Flush()
}

func summarize(data map[string]any) string {
	var parts []string
	for _, key := range summaryKeys {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		if f, isFloat := v.(float64); isFloat {
			parts = append(parts, fmt.Sprintf("%s=%.4g", key, f))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", key, v))
	}
	return strings.Join(parts, " ")
}
