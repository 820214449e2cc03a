package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/cli"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the aimux gateway with the specified configuration.

The server listens on the configured address and routes Anthropic Messages
requests to the configured providers. SIGHUP reloads the configuration file;
with reload.enabled the file is also watched for changes.

Examples:
  # Start with default config
  aimux run

  # Start with custom config
  aimux run --config /etc/aimux/aimux.yaml

  # Override listen address
  aimux run --listen 0.0.0.0:8080

  # Validate config and wiring without starting the server
  aimux run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build the gateway without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cfg, logger)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		_ = a.shutdown(context.Background())
		fmt.Fprintf(out, "✓ Configuration valid (%d providers)\n", len(cfg.Providers))
		return nil
	}

	ctx, stop := cli.ShutdownContext(cmd.Context())
	defer stop()

	if err := a.start(ctx); err != nil {
		_ = a.shutdown(context.Background())
		return cli.NewCommandError("run", err)
	}

	go a.handleReloads(ctx)

	fmt.Fprintf(out, "aimux v%s\n", Version)
	fmt.Fprintf(out, "✓ Configuration loaded from %s (%d providers)\n", cfgFile, len(cfg.Providers))
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	serveErr := a.server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}
	if serveErr != nil {
		return cli.NewCommandError("run", serveErr)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// handleReloads applies configuration changes from SIGHUP and, when
// enabled, from the file watcher until ctx is done.
func (a *app) handleReloads(ctx context.Context) {
	reloadFn := func(cfg *config.Config) error {
		return a.reload(ctx, cfg)
	}

	if a.cfg.Reload.Enabled {
		watcher, err := config.NewWatcher(cfgFile, a.cfg.Reload.Debounce, a.logger)
		if err != nil {
			a.logger.Error("failed to start config watcher", zap.Error(err))
		} else {
			defer watcher.Stop() //nolint:errcheck
			go func() {
				if err := watcher.Watch(ctx, reloadFn); err != nil {
					a.logger.Error("config watcher exited", zap.Error(err))
				}
			}()
		}
	}

	hup := cli.ReloadSignals()
	defer cli.StopSignals(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
			if err != nil {
				a.logger.Error("config reload rejected, keeping current configuration", zap.Error(err))
				continue
			}
			if err := reloadFn(cfg); err != nil {
				a.logger.Error("config reload failed", zap.Error(err))
				continue
			}
			a.logger.Info("config reloaded on SIGHUP", zap.Int("providers", len(cfg.Providers)))
		}
	}
}
