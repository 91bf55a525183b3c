// Package server exposes classification over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/pipeline"
)

// Config holds HTTP settings
type Config struct {
	Addr           string
	MaxUploadBytes int64
	// Workers bounds concurrent classifications; requests beyond it wait
	Workers         int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DefaultConfig listens on :5000 like the original web frontend expects
func DefaultConfig() Config {
	return Config{
		Addr:            ":5000",
		MaxUploadBytes:  100 << 20,
		Workers:         runtime.NumCPU(),
		RequestTimeout:  2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// Classifier is the inference dependency of the server
type Classifier interface {
	Classify(ctx context.Context, data []byte) (*pipeline.Result, error)
}

// Server routes requests to the inference pipeline
type Server struct {
	cfg        Config
	classifier Classifier
	registry   *artifact.Registry
	limiter    *semaphore.Weighted
	started    time.Time
	logger     logging.Logger
}

// New builds a server. registry backs the model and health endpoints.
func New(cfg Config, classifier Classifier, registry *artifact.Registry) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}

	return &Server{
		cfg:        cfg,
		classifier: classifier,
		registry:   registry,
		limiter:    semaphore.NewWeighted(int64(cfg.Workers)),
		started:    time.Now(),
		logger: logging.WithFields(logging.Fields{
			"component": "http_server",
		}),
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/model", s.handleModel)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/classify", s.handleClassify)

	return requestIDMiddleware(s.loggingMiddleware(corsMiddleware(s.cfg.AllowedOrigins)(mux)))
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to ShutdownTimeout
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logging.Fields{"addr": s.cfg.Addr, "workers": s.cfg.Workers})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// classify runs one classification under the worker limit
func (s *Server) classify(ctx context.Context, data []byte) (*pipeline.Result, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return nil, errBusy
	}
	defer s.limiter.Release(1)

	return s.classifier.Classify(ctx, data)
}
