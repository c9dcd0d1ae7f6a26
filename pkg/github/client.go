// Package github adapts the GitHub REST API to the handful of calls the
// "new image" workflow makes, and classifies its failures for retry.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/Promptonauts/artdash/pkg/retry"
)

// Client is the subset of the GitHub API the workflow needs.
type Client interface {
	GetRepository(ctx context.Context, owner, repo string) (*Repository, error)
	GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error)
	CreateBranch(ctx context.Context, owner, repo, branch, sha string) error
	CreateFile(ctx context.Context, owner, repo string, f FileChange) error
	CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error)
}

type Repository struct {
	Owner         string
	Name          string
	DefaultBranch string
	HTMLURL       string
}

type Branch struct {
	Name string
	SHA  string
}

type FileChange struct {
	Path    string
	Message string
	Content []byte
	Branch  string
}

type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

type PullRequest struct {
	Number  int
	HTMLURL string
}

// RemoteError is a failed API call with the HTTP status GitHub answered, or
// zero when no response was received.
type RemoteError struct {
	Status      int
	Message     string
	RateLimited bool
	Err         error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("github: %s", e.Message)
	}
	return fmt.Sprintf("github: %d %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Classify marks server errors and rate limiting as retryable. Every other
// failure, including a 403 that is not about rate limits, is fatal.
func Classify(err error) retry.Class {
	var re *RemoteError
	if !errors.As(err, &re) {
		return retry.Fatal
	}
	switch {
	case re.Status >= 500 && re.Status < 600:
		return retry.Retryable
	case re.RateLimited:
		return retry.Retryable
	case (re.Status == http.StatusForbidden || re.Status == http.StatusTooManyRequests) &&
		strings.Contains(strings.ToLower(re.Message), "rate limit"):
		return retry.Retryable
	}
	return retry.Fatal
}

type APIClient struct {
	gh *gh.Client
}

// NewClient builds an authenticated client. baseURL selects a GitHub
// Enterprise host; empty means github.com.
func NewClient(token, baseURL string, httpClient *http.Client) (*APIClient, error) {
	c := gh.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" {
		var err error
		c, err = c.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}
	return &APIClient{gh: c}, nil
}

func (c *APIClient) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, normalize(err)
	}
	return &Repository{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
	}, nil
}

func (c *APIClient) GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error) {
	b, _, err := c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		return nil, normalize(err)
	}
	return &Branch{Name: b.GetName(), SHA: b.GetCommit().GetSHA()}, nil
}

func (c *APIClient) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	ref := &gh.Reference{
		Ref:    gh.Ptr("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	}
	if _, _, err := c.gh.Git.CreateRef(ctx, owner, repo, ref); err != nil {
		return normalize(err)
	}
	return nil
}

func (c *APIClient) CreateFile(ctx context.Context, owner, repo string, f FileChange) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(f.Message),
		Content: f.Content,
		Branch:  gh.Ptr(f.Branch),
	}
	if _, _, err := c.gh.Repositories.CreateFile(ctx, owner, repo, f.Path, opts); err != nil {
		return normalize(err)
	}
	return nil
}

func (c *APIClient) CreatePullRequest(ctx context.Context, owner, repo string, pr NewPullRequest) (*PullRequest, error) {
	created, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title: gh.Ptr(pr.Title),
		Body:  gh.Ptr(pr.Body),
		Head:  gh.Ptr(pr.Head),
		Base:  gh.Ptr(pr.Base),
	})
	if err != nil {
		return nil, normalize(err)
	}
	return &PullRequest{Number: created.GetNumber(), HTMLURL: created.GetHTMLURL()}, nil
}

// normalize turns go-github's error types into a RemoteError.
func normalize(err error) error {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return &RemoteError{Status: statusOf(rle.Response), Message: rle.Message, RateLimited: true, Err: err}
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return &RemoteError{Status: statusOf(abuse.Response), Message: abuse.Message, RateLimited: true, Err: err}
	}
	var er *gh.ErrorResponse
	if errors.As(err, &er) {
		return &RemoteError{Status: statusOf(er.Response), Message: er.Message, Err: err}
	}
	return &RemoteError{Message: err.Error(), Err: err}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
