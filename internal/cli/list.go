package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clipforge/internal/catalog"
)

func newListCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the clips recorded in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := catalog.Open(cmd.Context(), s.cfg.Catalog)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "No clips found")
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIP\tWINDOW\tFRAMES\tBUILT\tMIX")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%.2f-%.2f\t%d\t%s\t%s\n",
					e.Key, e.WindowStart, e.WindowEnd, e.Frames,
					e.BuiltAt.Local().Format("2006-01-02 15:04"), e.MixPath)
			}
			return tw.Flush()
		},
	}
}
