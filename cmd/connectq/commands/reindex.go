package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/search"
)

// NewReindexCmd constructs the `connectq reindex` command, which rebuilds
// the vector index from the company store.
func NewReindexCmd() *cobra.Command {
	var companyID string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every company (or one with --company) into the vector index",
		Long: `Re-embed companies from the relational store and upsert their vectors.

Without flags every company is re-embedded in one pass. Use --company to
refresh a single company by id. Pending outbox events are left for the
serve command's consumer.

Examples:
  connectq reindex
  connectq reindex --company 3f6c1b9e-0f5e-4d43-a0b6-0d1c6b1a7e42
  EMBEDDING_PROVIDER=ollama connectq reindex`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			d, err := buildDeps(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer d.close(log)

			var res search.Result
			if companyID != "" {
				res = d.service.EmbedSingle(ctx, companyID)
			} else {
				res = d.service.EmbedAndStoreAll(ctx)
			}
			if !res.Success {
				if res.Err != nil {
					return fmt.Errorf("reindex: %s: %w", res.Message, res.Err)
				}
				return errors.New("reindex: " + res.Message)
			}

			log.Info("reindex complete", slog.Int("count", res.Count))
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&companyID, "company", "", "Re-embed only the company with this id")

	return cmd
}
