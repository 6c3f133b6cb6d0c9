// Package cmd defines the site-search CLI: the HTTP service plus one-shot
// crawl, search, reindex and stats commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-search/internal/app"
	"github.com/JakeFAU/site-search/internal/config"
	"github.com/JakeFAU/site-search/internal/logging"
	fileconfig "github.com/JakeFAU/site-search/pkg/config"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory; tests replace it.
var newApp = app.New

// newRootCmd creates the root command with its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "site-search",
		Short: "Crawl a fixed set of sites and search them by lemma.",
		Long: `site-search crawls the configured sites, indexes every page by the
normal forms of its words and answers ranked full-text queries over HTTP
or from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the services once the flags are parsed and stores them in
		// the context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgFile
			if path == "" {
				found, err := fileconfig.Locate()
				if err != nil {
					return err //nolint:wrapcheck // already wrapped
				}
				path = found
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			if path != "" {
				logger.Info("using config file", zap.String("path", path))
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || appInstance == nil {
				return
			}
			if err := appInstance.Close(); err != nil {
				appInstance.Logger.Warn("close services failed", zap.Error(err))
			}
			_ = appInstance.Logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: config.yaml in ., /etc/site-search or $HOME/.site-search)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
