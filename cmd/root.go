// Package cmd defines the linkwarmer command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkwarmer/internal/app"
	"github.com/JakeFAU/linkwarmer/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands drive. Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Warm(ctx context.Context) (app.Summary, error)
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, &cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "linkwarmer",
		Short: "Warms the HTTP cache for links a page is likely to follow.",
		Long: `linkwarmer watches an HTML document, finds same-origin links worth
prefetching and fetches them at the lowest priority, at most a few at a time,
so that a later navigation is served from cache.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed and stores it in the
		// command context for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newServeCmd(), newWarmCmd())
	return cmd
}

// applyFlags copies explicitly set subcommand flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("file") {
		path, _ := flags.GetString("file")
		cfg.Document.Source = config.SourceFile
		cfg.Document.Path = path
	}
	if flags.Changed("base-url") {
		cfg.Document.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	return cfg.Validate()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
