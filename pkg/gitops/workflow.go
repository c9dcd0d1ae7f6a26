// Package gitops opens "new image" pull requests against a user's fork of the
// build configuration repository.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Promptonauts/artdash/pkg/github"
	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/retry"
)

const BranchPrefix = "art-dashboard-new-image-"

var (
	ErrMissingParameters  = errors.New("missing required parameters")
	ErrTokenNotConfigured = errors.New("github token not configured")
)

type MissingParametersError struct {
	Fields []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("missing required parameters: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingParametersError) Is(target error) bool {
	return target == ErrMissingParameters
}

// StepError names the workflow step that failed. Steps already completed are
// not rolled back, so a failed run can leave a branch or file behind.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

const (
	StepGetRepository = "get_repo"
	StepGetBranch     = "get_branch"
	StepCreateBranch  = "create_git_ref"
	StepCreateFile    = "create_file"
	StepCreatePull    = "create_pull"
)

type Options struct {
	ConfigRepo string
	FakePRURL  string
}

type Workflow struct {
	client  github.Client
	runner  *retry.Runner
	opts    Options
	logger  *slog.Logger
	metrics *observability.MetricsRegistry
	suffix  func() string
}

// NewWorkflow wires the workflow. client may be nil when no token is
// configured; only test-mode requests succeed then.
func NewWorkflow(client github.Client, runner *retry.Runner, opts Options, logger *slog.Logger, metrics *observability.MetricsRegistry) *Workflow {
	if opts.ConfigRepo == "" {
		opts.ConfigRepo = "ocp-build-data"
	}
	return &Workflow{
		client:  client,
		runner:  runner,
		opts:    opts,
		logger:  observability.Component(logger, "gitops"),
		metrics: metrics,
		suffix:  randomSuffix,
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// CreateImagePR validates req, then either answers a synthetic success in
// test mode or runs the five remote steps in order.
func (w *Workflow) CreateImagePR(ctx context.Context, req models.MutationRequest) (*models.MutationResult, error) {
	if missing := req.Missing(); len(missing) > 0 {
		return nil, &MissingParametersError{Fields: missing}
	}

	logger := w.logger.With("git_user", req.GitUser, "jira_number", req.JiraNumber, "image_name", req.ImageName)

	if req.IsTestMode() {
		logger.Info("test mode, skipping github calls")
		payload := "Fake PR created successfully"
		if req.Host != "" {
			payload = req.Host + ": " + payload
		}
		return &models.MutationResult{
			Status:  "success",
			Payload: payload,
			PRURL:   w.opts.FakePRURL,
		}, nil
	}

	if w.client == nil {
		return nil, ErrTokenNotConfigured
	}

	owner, repoName := req.GitUser, w.opts.ConfigRepo

	repo, err := retry.Do(ctx, w.runner, StepGetRepository, github.Classify,
		func(ctx context.Context) (*github.Repository, error) {
			return w.client.GetRepository(ctx, owner, repoName)
		})
	if err != nil {
		return nil, &StepError{Step: StepGetRepository, Err: err}
	}
	if repo.Owner != "" {
		owner = repo.Owner
	}
	if repo.Name != "" {
		repoName = repo.Name
	}

	base, err := retry.Do(ctx, w.runner, StepGetBranch, github.Classify,
		func(ctx context.Context) (*github.Branch, error) {
			return w.client.GetBranch(ctx, owner, repoName, req.BaseBranch)
		})
	if err != nil {
		return nil, &StepError{Step: StepGetBranch, Err: err}
	}

	branch := BranchPrefix + w.suffix()
	if _, err := retry.Do(ctx, w.runner, StepCreateBranch, github.Classify,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.client.CreateBranch(ctx, owner, repoName, branch, base.SHA)
		}); err != nil {
		return nil, &StepError{Step: StepCreateBranch, Err: err}
	}

	file := github.FileChange{
		Path:    fmt.Sprintf("images/%s.yml", req.ImageName),
		Message: fmt.Sprintf("%s image add", req.ImageName),
		Content: []byte(req.FileContent),
		Branch:  branch,
	}
	if _, err := retry.Do(ctx, w.runner, StepCreateFile, github.Classify,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.client.CreateFile(ctx, owner, repoName, file)
		}); err != nil {
		return nil, &StepError{Step: StepCreateFile, Err: err}
	}

	pr, err := retry.Do(ctx, w.runner, StepCreatePull, github.Classify,
		func(ctx context.Context) (*github.PullRequest, error) {
			return w.client.CreatePullRequest(ctx, owner, repoName, github.NewPullRequest{
				Title: fmt.Sprintf("[%s] %s image add", req.JiraNumber, req.ImageName),
				Body:  fmt.Sprintf("Ticket: %s\n\nThis PR adds the %s image file", req.JiraNumber, req.ImageName),
				Head:  branch,
				Base:  req.BaseBranch,
			})
		})
	if err != nil {
		return nil, &StepError{Step: StepCreatePull, Err: err}
	}

	if w.metrics != nil {
		w.metrics.Counter(observability.MetricPullRequests).Inc()
	}
	logger.Info("pull request created", "pr_url", pr.HTMLURL, "branch", branch)

	return &models.MutationResult{
		Status:  "success",
		Payload: "PR created successfully",
		PRURL:   pr.HTMLURL,
		Branch:  branch,
	}, nil
}
