package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-search/internal/search"
)

func newSearchCmd() *cobra.Command {
	var q search.Query
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Query the index and print ranked results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			q.Text = strings.Join(args, " ")
			res, err := a.Search.Search(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&q.Site, "site", "", "restrict results to one indexed site")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "results to skip")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum results (default search.default_limit)")
	return cmd
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex URL",
		Short: "Fetch one page of a configured site and replace its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			page, err := a.Indexer.ReindexPage(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			return printJSON(cmd, page)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := a.Stats.Get(cmd.Context())
			if err != nil {
				return fmt.Errorf("read statistics: %w", err)
			}
			return printJSON(cmd, stats)
		},
	}
}
