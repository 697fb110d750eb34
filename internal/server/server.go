// Package server exposes the grain analysis pipeline over HTTP
package server

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"grain-size-analysis/internal/config"
	"grain-size-analysis/internal/core"
)

//go:embed static/index.html
var indexHTML []byte

// Server handles uploads and CSV exports
type Server struct {
	cfg      *config.Config
	pipeline *core.Pipeline
	logger   *logrus.Logger
	slots    chan struct{}
	router   *gin.Engine
	http     *http.Server
}

// New creates a server; call ListenAndServe to start it
func New(cfg *config.Config, pipeline *core.Pipeline, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger,
		slots:    make(chan struct{}, cfg.Server.MaxConcurrent),
	}

	s.router = s.setupRoutes()
	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr":           s.cfg.Server.Addr,
			"max_concurrent": s.cfg.Server.MaxConcurrent,
		}).Info("Starting HTTP server")

		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("HTTP server shutdown error")
		return s.http.Close()
	}
	return nil
}

func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), s.requestLogger(), gin.CustomRecovery(s.recovered))

	if origins := s.cfg.Server.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.New(corsConfig(origins)))
	}

	r.GET("/", s.handleIndex)
	r.GET("/healthz", s.handleHealth)

	limited := r.Group("/", s.limitBody(), s.limitConcurrency())
	limited.POST("/", s.handleUpload)
	limited.POST("/download_csv", s.handleDownloadCSV)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-Request-ID"}
	cfg.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}

	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
