// Package server exposes the generator over HTTP: a small JSON API under /api
// and every other request answered by the offline asset handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/woxQAQ/genpass-host/internal/genpass"
	"github.com/woxQAQ/genpass-host/internal/monitoring"
	"github.com/woxQAQ/genpass-host/pkg/protocol"
)

// Module is the lifecycle surface the handlers depend on. *genpass.Manager
// satisfies it.
type Module interface {
	genpass.Invoker
	State() genpass.State
	Err() error
}

// Config contains server configuration.
type Config struct {
	// DefaultCount replaces a count without a leading integer.
	DefaultCount int64
	// Development keeps gin in debug mode.
	Development bool
	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		DefaultCount:    genpass.DefaultCount,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server wraps the router and its dependencies.
type Server struct {
	router     *gin.Engine
	module     Module
	marshaller *genpass.Marshaller
	sanitizer  *bluemonday.Policy
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	config     Config
}

// NewServer builds the router. assets answers every request outside /api and
// may be nil. metrics may be nil.
func NewServer(cfg Config, module Module, assets http.Handler, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}

	s := &Server{
		router:     router,
		module:     module,
		marshaller: genpass.NewMarshaller(module),
		sanitizer:  bluemonday.UGCPolicy(),
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "http-server")),
		config:     cfg,
	}

	// Engine-level so preflights, which match no route, still get answered.
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:       12 * time.Hour,
	}))

	api := router.Group("/api")
	api.GET("/status", s.status)
	api.POST("/generate", s.generate)
	api.GET("/save", s.save)

	if assets != nil {
		router.NoRoute(gin.WrapH(assets))
	} else {
		router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, protocol.ErrorResponse{Error: "not found"})
		})
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func (s *Server) status(c *gin.Context) {
	resp := protocol.StatusResponse{State: s.module.State().String()}
	if err := s.module.Err(); err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) generate(c *gin.Context) {
	var req protocol.GenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	category, err := genpass.ParseCategory(req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
		return
	}
	count := genpass.ClampCount(string(req.Count), s.config.DefaultCount)

	start := time.Now()
	result, err := s.marshaller.Generate(c.Request.Context(), category, count)
	if s.metrics != nil {
		s.metrics.RecordGeneration(category, time.Since(start), err)
	}
	if err != nil {
		s.fail(c, "Generation failed", err)
		return
	}

	c.JSON(http.StatusOK, protocol.GenerateResponse{
		HTML:      s.sanitizer.Sanitize(result.Rendered),
		Elapsed:   result.Elapsed,
		Timestamp: result.Timestamp,
		Category:  result.Category.String(),
		Count:     result.Count,
	})
}

func (s *Server) save(c *gin.Context) {
	artifact, err := s.artifact(c.Request.Context())
	if s.metrics != nil {
		s.metrics.RecordSave(err)
	}
	if err != nil {
		s.fail(c, "Save failed", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(artifact.Content))
}

func (s *Server) artifact(ctx context.Context) (*genpass.Artifact, error) {
	snap, err := s.marshaller.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return genpass.NewArtifact(snap)
}

// fail maps err to a status code and writes an ErrorResponse.
func (s *Server) fail(c *gin.Context, msg string, err error) {
	var (
		notReady    *genpass.NotReadyError
		unknown     *genpass.UnknownCategoryError
		invalid     *genpass.InvalidCategoryError
		generateErr *genpass.GenerationError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notReady):
		status = http.StatusServiceUnavailable
	case errors.As(err, &unknown), errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.Is(err, genpass.ErrNothingToSave):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &generateErr):
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err), zap.Stringer("state", s.module.State()))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}

	resp := protocol.ErrorResponse{Error: err.Error()}
	if status == http.StatusServiceUnavailable || s.module.State() == genpass.StateFailed {
		resp.State = s.module.State().String()
	}
	c.JSON(status, resp)
}

var _ Module = (*genpass.Manager)(nil)
