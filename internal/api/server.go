// Package api is the HTTP surface of the engine.
package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"maritime-query-engine/internal/actions"
	"maritime-query-engine/internal/common/logger"
	"maritime-query-engine/internal/engine"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/internal/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// QueryEngine runs the query pipeline.
type QueryEngine interface {
	Search(ctx context.Context, scope models.TenantScope, text string) (*engine.Outcome, error)
	Query(ctx context.Context, scope models.TenantScope, text string) (*engine.Outcome, error)
}

// ActionService executes, confirms and cancels catalog actions.
type ActionService interface {
	Execute(ctx context.Context, actionID string, scope models.TenantScope, payload map[string]interface{}) (*actions.ExecuteResult, error)
	Confirm(ctx context.Context, token string, scope models.TenantScope) (*models.CommitResult, error)
	Cancel(ctx context.Context, token string, scope models.TenantScope) error
}

// Pinger is a dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	ServiceName    string
	Address        string
	OpsAddress     string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type Server struct {
	config   Config
	engine   QueryEngine
	actions  ActionService
	verifier security.Verifier
	limiter  *security.RateLimiter
	ready    map[string]Pinger
	logger   logger.Logger
}

func NewServer(config Config, eng QueryEngine, svc ActionService, verifier security.Verifier, ready map[string]Pinger, log logger.Logger) *Server {
	if config.ServiceName == "" {
		config.ServiceName = "query-engine"
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 10
	}
	bindingValidators()
	return &Server{
		config:   config,
		engine:   eng,
		actions:  svc,
		verifier: verifier,
		limiter:  security.NewRateLimiter(config.RateLimit, config.RateBurst),
		ready:    ready,
		logger:   log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

// Router builds the API handler. CORS runs before routing so preflight
// requests never reach authentication. When no separate ops address is
// configured the health endpoints and /metrics are served here too.
func (s *Server) Router() *gin.Engine {
	r := s.newEngine()
	r.Use(security.CORS(s.config.AllowedOrigins))
	r.Use(otelgin.Middleware(s.config.ServiceName))
	r.Use(s.requestLogger())

	v1 := r.Group("/v1")
	v1.Use(s.authenticate(), s.rateLimit())
	{
		v1.POST("/search", s.handleSearch)
		v1.POST("/query", s.handleQuery)

		acts := v1.Group("/actions")
		{
			acts.POST("/execute", s.handleExecute)
			acts.POST("/confirm", s.handleConfirm)
			acts.DELETE("/pending/:token", s.handleCancel)
		}

		v1.GET("/audit/entities/:entity_id", s.handleAuditTrail)
	}

	if s.config.OpsAddress == "" {
		s.registerOps(r)
	}
	return r
}

// OpsRouter serves the health endpoints and /metrics on their own listener.
func (s *Server) OpsRouter() *gin.Engine {
	r := s.newEngine()
	s.registerOps(r)
	return r
}

// newEngine returns a gin engine whose panics, unknown routes and wrong
// methods all answer with the error envelope.
func (s *Server) newEngine() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.CustomRecovery(s.recovered))
	r.NoRoute(s.handleNoRoute)
	r.NoMethod(s.handleNoMethod)
	return r
}

func (s *Server) registerOps(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:         s.config.Address,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}}
	if s.config.OpsAddress != "" {
		servers = append(servers, &http.Server{
			Addr:        s.config.OpsAddress,
			Handler:     s.OpsRouter(),
			ReadTimeout: s.config.ReadTimeout,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			s.logger.Info("HTTP listener started", map[string]interface{}{"address": srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP listener shutdown failed", map[string]interface{}{
				"address": srv.Addr,
				"error":   err.Error(),
			})
		}
	}
	return runErr
}
