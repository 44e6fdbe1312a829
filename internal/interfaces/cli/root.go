// Package cli is the command line front end of the marketplace console
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/console/internal/application/console"
	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/infrastructure/config"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type rootOptions struct {
	configPath string
	output     string
}

// RootCmd returns the console command tree
func RootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "erp-console",
		Short:         "Marketplace admin console for products, merchants and customers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch opts.output {
			case OutputTable, OutputJSON:
				return nil
			}
			return fmt.Errorf("--output must be %s or %s, got %q", OutputTable, OutputJSON, opts.output)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the config file (default: ./console.toml)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", OutputTable, "Output format: table or json")

	root.AddCommand(
		entitiesCmd(opts),
		listCmd(opts),
		editCmd(opts),
		bulkCmd(opts),
		callCmd(opts),
		migrateCmd(opts),
		seedCmd(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// run builds the app, hands it to fn and prints the notifications the run produced
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		app.Close(closeCtx)
	}()

	err = fn(app.Context(ctx), app)
	renderNotices(cmd.ErrOrStderr(), app.Notices.Active())
	if console.IsSessionError(err) {
		return fmt.Errorf("%w: refresh auth.token and retry", err)
	}
	return err
}

// newLogger builds the logger of commands that run without the full app
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultConfig().TimeFormat,
	})
}

// loadRegistry returns the built-in entities with the configured overrides applied
func loadRegistry(cfg *config.Config) (*catalog.Registry, error) {
	registry := catalog.DefaultRegistry()
	if cfg.Listing.EntitiesFile != "" {
		if err := registry.LoadOverridesFile(cfg.Listing.EntitiesFile); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func entitiesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "Show the collections the console can list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			kinds := registry.Kinds()
			configs := make([]catalog.EntityConfig, 0, len(kinds))
			for _, k := range kinds {
				c, err := registry.Get(k)
				if err != nil {
					return err
				}
				configs = append(configs, c)
			}
			return renderEntities(cmd.OutOrStdout(), opts.output, configs)
		},
	}
}
