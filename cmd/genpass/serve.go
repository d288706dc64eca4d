package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/genpass-host/internal/genpass"
	"github.com/woxQAQ/genpass-host/internal/monitoring"
	"github.com/woxQAQ/genpass-host/internal/offline"
	"github.com/woxQAQ/genpass-host/internal/server"
)

type serveOptions struct {
	listenAddr string
	module     string
}

func newServeCommand(c *cli) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generator API and the offline page assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(c, &opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listenAddr, "listen", "", "Listen address; overrides listen_addr")
	flags.StringVar(&opts.module, "module", "", "Path to the compute module; overrides wasm.module_path")
	return cmd
}

func (c *cli) managerConfig(onStateChange func(from, to genpass.State)) *genpass.ManagerConfig {
	mc := genpass.DefaultManagerConfig()
	mc.Runtime = c.cfg.Wasm.Runtime()
	if c.cfg.Wasm.InitFunction != "" {
		mc.InitFunction = c.cfg.Wasm.InitFunction
	}
	mc.OnStateChange = onStateChange
	return mc
}

func runServe(c *cli, opts *serveOptions) error {
	ctx, cancel := c.signalContext()
	defer cancel()

	logger := c.logger
	logger.Info("Starting genpass host",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	metrics := monitoring.NewMetrics()

	worker, stopWorker, err := c.startWorker(ctx, metrics)
	if err != nil {
		return err
	}
	defer stopWorker()

	// An install failure keeps the previously active store serving.
	if err := worker.Start(ctx); err != nil {
		logger.Warn("Offline cache install failed", zap.Error(err))
	}

	mgr := genpass.NewManager(logger, c.managerConfig(metrics.ObserveStateChange))
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := mgr.Close(closeCtx); err != nil {
			logger.Warn("Failed to close module", zap.Error(err))
		}
	}()

	// Handlers answer from State() while the module loads.
	go func() {
		if err := mgr.Load(ctx, c.moduleSource(opts.module, worker)); err != nil {
			logger.Error("Module load failed", zap.Error(err))
		}
	}()

	if c.cfg.MetricsEnabled {
		go serveMetrics(ctx, logger, c.cfg.MetricsPort, metrics)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.DefaultCount = c.cfg.Generator.DefaultCount
	srvCfg.Development = c.cfg.LogLevel == "debug"
	srv := server.NewServer(srvCfg, mgr, offline.NewHandler(worker, logger), metrics, logger)

	addr := opts.listenAddr
	if addr == "" {
		addr = c.cfg.ListenAddr
	}
	if err := srv.Run(ctx, addr); err != nil {
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}

func serveMetrics(ctx context.Context, logger *zap.Logger, port int, metrics *monitoring.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("Metrics server listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server error", zap.Error(err))
	}
}
