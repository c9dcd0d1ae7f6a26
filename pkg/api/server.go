// Package api is the HTTP surface of the dashboard backend.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Promptonauts/artdash/pkg/auth"
	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/store"
)

type PipelineResolver interface {
	Resolve(ctx context.Context, start models.Stage, name, version string) (*models.PipelineResult, error)
}

type VersionResolver interface {
	Resolve(ctx context.Context, explicit string) (string, error)
}

type PullRequestCreator interface {
	CreateImagePR(ctx context.Context, req models.MutationRequest) (*models.MutationResult, error)
}

// Deps are the collaborators the handlers call. Every field is required
// except Logger and Metrics.
type Deps struct {
	Pipeline       PipelineResolver
	GAVersion      VersionResolver
	PullRequests   PullRequestCreator
	Builds         store.BuildStore
	Auth           *auth.Authenticator
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *observability.MetricsRegistry
}

type Server struct {
	deps    Deps
	logger  *slog.Logger
	metrics *observability.MetricsRegistry
	engine  *gin.Engine
}

func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetricsRegistry()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 90 * time.Second
	}
	s := &Server{
		deps:    deps,
		logger:  observability.Component(deps.Logger, "api"),
		metrics: deps.Metrics,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = true
	r.Use(requestID(), s.accessLog(), s.instrument(), s.recovery())

	v1 := r.Group("/v1")
	v1.GET("/test", s.handleTest)
	v1.GET("/pipeline", s.handlePipeline)
	v1.GET("/ga-version", s.handleGAVersion)
	v1.GET("/git-pr", s.handleGitPR)
	v1.POST("/git-pr", s.handleGitPR)
	v1.POST("/login", s.handleLogin)
	v1.GET("/check-auth", s.deps.Auth.RequireToken(), s.handleCheckAuth)
	v1.GET("/builds", s.handleListBuilds)
	v1.GET("/builds/:id", s.handleGetBuild)
	v1.GET("/metrics", s.handleMetrics)
	return r
}

// envelope is the {status, payload} body most endpoints answer with.
func envelope(status string, payload any) gin.H {
	return gin.H{"status": status, "payload": payload}
}

func (s *Server) handleTest(c *gin.Context) {
	c.JSON(http.StatusOK, envelope("success", "Setup successful!"))
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}
