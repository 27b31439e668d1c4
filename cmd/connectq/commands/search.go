package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/search"
)

// NewSearchCmd constructs the `connectq search` command, which runs a
// natural-language query against the index and prints the ranked matches.
func NewSearchCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search companies by natural-language description",
		Long: `Search companies by meaning rather than keywords.

Matches are printed in similarity order with their score.

Examples:
  connectq search "AI startups in Berlin doing computer vision"
  connectq search --top-k 3 "sustainable packaging suppliers"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			d, err := buildDeps(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer d.close(log)

			res := d.service.Search(ctx, strings.Join(args, " "), topK)
			if !res.Success {
				if res.Err != nil {
					return fmt.Errorf("search: %s: %w", res.Message, res.Err)
				}
				return fmt.Errorf("search: %s", res.Message)
			}

			out := cmd.OutOrStdout()
			if res.Count == 0 {
				fmt.Fprintln(out, res.Message)
				return nil
			}
			for i, m := range res.Matches {
				name := m.Name
				if m.Orphan {
					name = "(missing company row)"
				}
				fmt.Fprintf(out, "%2d. %.3f  %s  [%s]\n", i+1, m.Score, name, m.ID)
				if line := summary(m); line != "" {
					fmt.Fprintf(out, "           %s\n", line)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", search.DefaultTopK, fmt.Sprintf("Maximum number of matches (1-%d)", search.MaxTopK))

	return cmd
}

// summary returns the industry, location and tagline of m joined for the
// second output line.
func summary(m search.Match) string {
	var parts []string
	for _, s := range []string{m.Industry, m.Location, m.Tagline} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}
