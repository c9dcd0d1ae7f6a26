package api

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
)

var (
	stagePattern   = regexp.MustCompile(`^[A-Za-z]+$`)
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+$`)
)

const (
	msgInvalidInput  = "Invalid input values"
	msgPipelineError = "Error while retrieving the image pipeline"
	msgGAError       = "Error while retrieving GA version"
)

// handlePipeline answers GET /v1/pipeline?starting_from=&name=&version=.
// Version defaults to the current GA version.
func (s *Server) handlePipeline(c *gin.Context) {
	startingFrom := c.Query("starting_from")
	name := c.Query("name")
	version := c.Query("version")

	if !stagePattern.MatchString(startingFrom) || !namePattern.MatchString(name) ||
		(version != "" && !versionPattern.MatchString(version)) {
		c.JSON(http.StatusBadRequest, envelope("error", msgInvalidInput))
		return
	}
	stage, err := models.ParseStage(startingFrom)
	if err != nil {
		c.JSON(http.StatusBadRequest, envelope("error", msgInvalidInput))
		return
	}

	ctx := c.Request.Context()
	logger := s.requestLogger(c)

	version, err = s.deps.GAVersion.Resolve(ctx, version)
	if err != nil {
		logger.Error("default version lookup failed", observability.FieldError, err)
		c.JSON(http.StatusInternalServerError, envelope("error", msgPipelineError))
		return
	}

	result, err := s.deps.Pipeline.Resolve(ctx, stage, name, version)
	switch {
	case errors.Is(err, models.ErrInvalidStage):
		c.JSON(http.StatusBadRequest, envelope("error", msgInvalidInput))
	case err != nil:
		logger.Error("pipeline request failed", observability.FieldStage, string(stage),
			"name", name, "version", version, observability.FieldError, err)
		c.JSON(http.StatusInternalServerError, envelope("error", msgPipelineError))
	default:
		c.JSON(http.StatusOK, envelope("success", result))
	}
}

func (s *Server) handleGAVersion(c *gin.Context) {
	v, err := s.deps.GAVersion.Resolve(c.Request.Context(), "")
	if err != nil {
		s.requestLogger(c).Error("ga version request failed", observability.FieldError, err)
		c.JSON(http.StatusInternalServerError, envelope("error", msgGAError))
		return
	}
	c.JSON(http.StatusOK, envelope("success", v))
}
