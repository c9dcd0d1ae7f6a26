package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Promptonauts/artdash/pkg/github"
	"github.com/Promptonauts/artdash/pkg/gitops"
	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/retry"
)

// param reads a value from the query string, then from a posted form.
func param(c *gin.Context, key string) (string, bool) {
	if v, ok := c.GetQuery(key); ok {
		return v, true
	}
	return c.GetPostForm(key)
}

func mutationRequest(c *gin.Context) models.MutationRequest {
	get := func(key string) string {
		v, _ := param(c, key)
		return v
	}
	req := models.MutationRequest{
		GitUser:     get("git_user"),
		BaseBranch:  get("branch"),
		JiraNumber:  get("jira_number"),
		FileContent: get("file_content"),
		ImageName:   get("image_name"),
		Host:        c.Request.Host,
	}
	if v, ok := param(c, "test_mode"); ok {
		req.TestMode = &v
	}
	return req
}

// handleGitPR opens the "new image" pull request against the build data
// repository, or fakes it in test mode.
func (s *Server) handleGitPR(c *gin.Context) {
	req := mutationRequest(c)
	logger := s.requestLogger(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.RequestTimeout)
	defer cancel()

	result, err := s.deps.PullRequests.CreateImagePR(ctx, req)
	if err != nil {
		status, body := gitPRError(req, err)
		logger.Error("pull request workflow failed", observability.FieldStatus, status, observability.FieldError, err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, result)
}

// gitPRError maps a workflow failure to the response. Remote messages are
// passed through for GitHub's own 4xx answers only; anything else is logged
// by the caller and answered with a fixed message.
func gitPRError(req models.MutationRequest, err error) (int, gin.H) {
	var (
		missing *gitops.MissingParametersError
		step    *gitops.StepError
		remote  *github.RemoteError
	)
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, gin.H{
			"error":      "Missing required parameters",
			"missing":    missing.Fields,
			"parameters": req.Parameters(),
		}
	case errors.Is(err, gitops.ErrTokenNotConfigured):
		return http.StatusInternalServerError, gin.H{"error": "git token not in GITHUB_PERSONAL_ACCESS_TOKEN environment variable"}
	case errors.Is(err, retry.ErrRetriesExhausted):
		what := "git api call"
		if errors.As(err, &step) {
			what = step.Step
		}
		return http.StatusInternalServerError, gin.H{"error": "Unexpected error: " + what + " failed after retries"}
	case errors.As(err, &remote) && remote.Status >= 400 && remote.Status < 500:
		msg := remote.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return remote.Status, gin.H{"error": "git api error: " + msg}
	case errors.As(err, &remote) && remote.Status >= 500:
		return remote.Status, gin.H{"error": "git api error: upstream server error"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Unexpected error while creating the pull request"}
	}
}
