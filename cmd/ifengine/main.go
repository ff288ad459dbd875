// Command ifengine drives an interactive-fiction play session from the
// command line: one subcommand per engine operation, a session file
// persisted between invocations, and an optional Prometheus metrics
// exporter (no HTTP endpoint is served), mirroring the way the teacher's cmd/nerd wires a cobra root
// command around a single coordinator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ifengine/internal/config"
	"ifengine/internal/telemetry"
)

var (
	verbose    bool
	configPath string
	dataDir    string
	metrics    bool

	logger      *zap.Logger
	cfg         *config.Config
	telShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "ifengine",
	Short: "A branching interactive-fiction engine with undo/redo and semantic memory",
	Long: `ifengine drives a director/writer turn pipeline over a branching story
tree, backed by a local vector-searchable memory bank and plot-card index.

Each subcommand loads the session from --data-dir, performs one engine
operation, and saves the result back before exiting.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		if metrics || cfg.Telemetry.Enabled {
			telShutdown, err = telemetry.InitProvider(cmd.Context(), telemetry.ProviderConfig{
				ServiceName: cfg.Name,
			})
			if err != nil {
				logger.Warn("telemetry disabled: failed to init provider", zap.Error(err))
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if telShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telShutdown(shutdownCtx)
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ifengine.yaml", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Session data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&metrics, "metrics", false, "Enable the Prometheus metrics exporter regardless of config (no HTTP endpoint is served)")

	rootCmd.AddCommand(actCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withInterrupt wraps ctx so SIGINT/SIGTERM cancel it, matching the
// teacher's own runInstruction shutdown handling.
func withInterrupt(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
