package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clipforge/internal/app"
	"github.com/MrWong99/clipforge/internal/clip"
	"github.com/MrWong99/clipforge/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newBuildCmd(s *state) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the clips of one or more sessions",
		Long: "Builds the audio, video and mix artifact of every manifest entry of the configured " +
			"target. Existing artifacts are kept unless --overwrite is given, so an interrupted " +
			"build can be repeated.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if overwrite {
				s.cfg.Overwrite = true
			}
			if s.cfg.Overwrite {
				s.log.Warn("overwrite is enabled; existing clip artifacts will be regenerated")
			}
			sessions, err := s.targetSessions()
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), s.cfg, s.deps.AppOptions...)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.Shutdown(ctx); err != nil {
					slog.Warn("shutdown error", "err", err)
				}
			}()

			reports, err := a.Run(cmd.Context(), sessions)
			if werr := writeReports(cmd.OutOrStdout(), reports); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "regenerate artifacts that already exist")
	return cmd
}

// writeReports prints one line per session followed by the failed segments.
func writeReports(w io.Writer, reports []*clip.Report) error {
	if len(reports) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tDEVICE\tTARGET\tSEGMENTS\tFAILED\tWRITTEN\tSKIPPED")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.Session, r.Device, r.Target, len(r.Segments), len(r.Failed()),
			r.Count("", observe.OutcomeWritten), r.Count("", observe.OutcomeSkipped))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range reports {
		for _, seg := range r.Failed() {
			if _, err := fmt.Fprintf(w, "%s segment %d failed: %v\n", r.Session, seg.Index, seg.Err); err != nil {
				return err
			}
		}
	}
	return nil
}
