package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/connectq/internal/logging"
)

// NewStatsCmd constructs the `connectq stats` command, which prints the
// vector index statistics.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print vector index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			d, err := buildDeps(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer d.close(log)

			st, err := d.service.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			companies, err := d.store.ListCompanies(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "collection:  %s\n", st.Collection)
			fmt.Fprintf(out, "vectors:     %d\n", st.Points)
			fmt.Fprintf(out, "dimensions:  %d\n", st.Dimensions)
			fmt.Fprintf(out, "companies:   %d\n", len(companies))
			return nil
		},
	}
}
