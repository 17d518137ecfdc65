// Package web serves the review HTTP API.
package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lucasnoah/reviewfactory/internal/clone"
	"github.com/lucasnoah/reviewfactory/internal/orchestrator"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
)

// Service is what the API needs from the orchestrator.
type Service interface {
	Submit(ctx context.Context, req orchestrator.Request) (*pipeline.RunState, error)
	Status(id string) (*pipeline.RunState, error)
	Report(id string) (*orchestrator.RunReport, error)
	List(status pipeline.Status) ([]pipeline.RunState, error)
}

// Server is the HTTP API server.
type Server struct {
	svc     Service
	metrics http.Handler
	logger  *zap.SugaredLogger
	engine  *gin.Engine
	srv     *http.Server
}

var registerOnce sync.Once

// registerValidators adds the custom binding rules to gin's validator.
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("gitref", validateGitRef)
		}
	})
}

// validateGitRef accepts branch, tag and commit names git would accept and
// that cannot be mistaken for an option.
func validateGitRef(fl validator.FieldLevel) bool {
	return clone.ValidateRef(fl.Field().String()) == nil
}

// NewServer creates a Server listening on addr. metrics may be nil to
// disable /metrics.
func NewServer(svc Service, addr string, metrics http.Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	registerValidators()
	gin.SetMode(gin.ReleaseMode)

	s := &Server{svc: svc, metrics: metrics, logger: logger}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.logRequests())
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.engine.Group("/api/v1/review")
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/status/:run_id", s.handleStatus)
	api.GET("/report/:run_id", s.handleReport)
	api.GET("/runs", s.handleRuns)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Infow("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
