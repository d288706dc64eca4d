package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/genpass-host/internal/config"
	"github.com/woxQAQ/genpass-host/internal/offline"
	"github.com/woxQAQ/genpass-host/internal/wasm"
)

// cli carries state shared by all commands.
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.ServerConfig
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:          "genpass",
		Short:        "Host for the genpass compute module",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Path to configuration file")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log_level")

	cmd.AddCommand(
		newServeCommand(c),
		newGenerateCommand(c),
		newCacheCommand(c),
		newVersionCommand(),
	)
	return cmd
}

func (c *cli) setup() error {
	cfg, err := config.LoadServerConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func (c *cli) signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			c.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// startWorker opens the cache database and runs an offline worker until the
// returned stop function is called.
func (c *cli) startWorker(ctx context.Context, observer offline.Observer) (*offline.Worker, func(), error) {
	manifest, err := c.cfg.Offline.Manifest()
	if err != nil {
		return nil, nil, err
	}

	store, err := offline.OpenStore(c.cfg.Offline.DBPath, c.logger)
	if err != nil {
		return nil, nil, err
	}

	worker := offline.NewWorker(&offline.WorkerConfig{
		Manifest: manifest,
		Store:    store,
		Origin:   offline.NewHTTPOrigin(c.cfg.Offline.Origin, c.cfg.Offline.FetchTimeout),
		Observer: observer,
	}, c.logger)

	runCtx, cancel := context.WithCancel(ctx)
	go worker.Run(runCtx)

	stop := func() {
		cancel()
		if err := store.Close(); err != nil {
			c.logger.Warn("Failed to close cache store", zap.Error(err))
		}
	}
	return worker, stop, nil
}

// moduleSource prefers a module file on disk; otherwise the module is
// fetched as an asset through the offline worker.
func (c *cli) moduleSource(path string, worker *offline.Worker) wasm.ModuleSource {
	if path == "" {
		path = c.cfg.Wasm.ModulePath
	}
	if path != "" {
		return &wasm.FileModuleSource{Path: path}
	}
	return &wasm.FetcherModuleSource{Path: c.cfg.Wasm.ModuleAsset, Fetcher: worker}
}
