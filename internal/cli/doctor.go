package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clipforge/internal/app"
)

// errChecksFailed is returned by doctor when a check fails; the details are
// already printed.
var errChecksFailed = errors.New("some prerequisites are missing")

func newDoctorCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Long:  "Checks that ffmpeg and ffprobe run, the artifact directory is writable, the roster is readable and the catalog opens.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			a, err := app.New(cmd.Context(), s.cfg, s.deps.AppOptions...)
			if err != nil {
				fmt.Fprintf(w, "FAIL  setup: %v\n", err)
				return errChecksFailed
			}
			defer a.Shutdown(cmd.Context())

			rep := a.Health().Evaluate(cmd.Context())
			for _, res := range rep {
				if res.Err != nil {
					fmt.Fprintf(w, "FAIL  %s: %v\n", res.Name, res.Err)
				} else {
					fmt.Fprintf(w, "ok    %s\n", res.Name)
				}
			}
			if !rep.OK() {
				return errChecksFailed
			}
			fmt.Fprintln(w, "\nAll prerequisites met.")
			return nil
		},
	}
}
