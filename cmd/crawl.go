package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

// newCrawlCmd creates the 'crawl' subcommand, which runs one campaign per
// configured site in the foreground and prints the resulting statistics.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Index every configured site and exit",
		Long: `Purges and re-crawls every configured site, waiting for all campaigns
to finish. SIGINT stops the campaigns; pages stored so far are kept.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.Registry.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted sites: %w", err)
	}
	started, err := a.Registry.Start(ctx)
	if err != nil {
		return fmt.Errorf("start indexing: %w", err)
	}
	if !started {
		return errors.New("indexing is already running")
	}

	if err := a.Registry.Wait(ctx); err != nil {
		a.Logger.Info("interrupted; stopping campaigns")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if _, serr := a.Registry.Stop(stopCtx); serr != nil {
			a.Logger.Error("stop campaigns failed", zap.Error(serr))
		}
		if werr := a.Registry.Wait(stopCtx); werr != nil {
			return fmt.Errorf("wait for campaigns: %w", werr)
		}
	}

	stats, err := a.Stats.Get(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("read statistics: %w", err)
	}
	a.Logger.Info("crawl finished", zap.Int("pages", stats.Total.Pages), zap.Int("lemmas", stats.Total.Lemmas))
	return printJSON(cmd, stats)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
