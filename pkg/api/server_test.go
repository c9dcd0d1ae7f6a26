package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Promptonauts/artdash/pkg/auth"
	"github.com/Promptonauts/artdash/pkg/gaversion"
	"github.com/Promptonauts/artdash/pkg/github"
	"github.com/Promptonauts/artdash/pkg/gitops"
	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/pipeline"
	"github.com/Promptonauts/artdash/pkg/retry"
	"github.com/Promptonauts/artdash/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.PutSourceRepo(ctx, &models.SourceRepo{Name: "foo", Version: "4.16"}))
	require.NoError(t, s.PutDistgitRepo(ctx, &models.DistgitRepo{Name: "ose-foo", Version: "4.16", SourceRepo: "foo"}))
	require.NoError(t, s.PutBrewPackage(ctx, &models.BrewPackage{PackageID: 77, PackageName: "ose-foo-container", Version: "4.16", DistgitName: "ose-foo"}))
	require.NoError(t, s.PutCdnRepo(ctx, &models.CdnRepo{ID: 9, Name: "redhat-openshift4-ose-foo", Version: "4.16", BrewPackageID: 77}))
	require.NoError(t, s.PutDeliveryRepo(ctx, &models.DeliveryRepo{ID: "5e9c", Name: "openshift4/ose-foo", Version: "4.16", CdnRepoID: 9}))

	built := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, nvr := range []string{"ose-foo-4.16.0-1.assembly.stream", "ose-bar-4.16.0-1", "ose-baz-4.16.0-2.assembly.stream"} {
		ts := built.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.PutBuild(ctx, &models.Build{
			ID:            int64(i + 1),
			Build0ID:      int64(1000 + i),
			Build0NVR:     nvr,
			DgName:        strings.SplitN(nvr, "-4", 2)[0],
			BrewTaskState: "success",
			Group:         "openshift-4.16",
			BuildTimeISO:  &ts,
		}))
	}
	return s
}

type stubPipeline struct {
	err   error
	panic bool
}

func (p stubPipeline) Resolve(context.Context, models.Stage, string, string) (*models.PipelineResult, error) {
	if p.panic {
		panic("boom")
	}
	return nil, p.err
}

type stubVersion struct{ err error }

func (v stubVersion) Resolve(_ context.Context, explicit string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	if explicit != "" {
		return explicit, nil
	}
	return "4.16", nil
}

type stubPRs struct {
	err error
	got models.MutationRequest
}

func (p *stubPRs) CreateImagePR(_ context.Context, req models.MutationRequest) (*models.MutationResult, error) {
	p.got = req
	if p.err != nil {
		return nil, p.err
	}
	return &models.MutationResult{Status: "success", Payload: "PR created successfully", PRURL: "https://github.com/alice/ocp-build-data/pull/42"}, nil
}

type fixture struct {
	server  *Server
	store   *store.SQLiteStore
	auth    *auth.Authenticator
	metrics *observability.MetricsRegistry
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	st := newStore(t)
	metrics := observability.NewMetricsRegistry()
	a := auth.New("s3cret", "art", "hunter2", time.Hour)

	runner := retry.NewRunner(retry.DefaultPolicy(), nil, metrics)
	runner.Sleep = func(context.Context, time.Duration) error { return nil }

	deps := Deps{
		Pipeline:     pipeline.NewResolver(pipeline.NewStoreSources(st, nil, metrics), 4, nil, metrics),
		GAVersion:    gaversion.NewResolver(gaversion.StaticSource("4.16"), nil, nil),
		PullRequests: gitops.NewWorkflow(nil, runner, gitops.Options{ConfigRepo: "ocp-build-data", FakePRURL: "https://github.com/DennisPeriquet/ocp-build-data/pull/10"}, nil, metrics),
		Builds:       st,
		Auth:         a,
		Metrics:      metrics,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &fixture{server: NewServer(deps), store: st, auth: a, metrics: metrics}
}

func (f *fixture) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func (f *fixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]any) {
	return f.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func TestSetupCheck(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.get(t, "/v1/test")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Setup successful!", body["payload"])
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w, _ := f.do(t, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestPipelineFromDistgitEndToEnd(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.get(t, "/v1/pipeline?starting_from=distgit&name=ose-foo")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", body["status"])

	payload := body["payload"].(map[string]any)
	assert.Equal(t, "4.16", payload["version"], "defaults to the GA version")

	roots := payload["roots"].([]any)
	require.Len(t, roots, 1)

	stages := []string{}
	node := roots[0].(map[string]any)
	for {
		stages = append(stages, node["stage"].(string))
		children := node["children"].([]any)
		if len(children) == 0 {
			break
		}
		require.Len(t, children, 1)
		node = children[0].(map[string]any)
	}
	assert.Equal(t, []string{"distgit", "package", "cdn", "image"}, stages)
}

func TestPipelineRejectsInput(t *testing.T) {
	f := newFixture(t, nil)

	for _, target := range []string{
		"/v1/pipeline?starting_from=bogus&name=ose-foo&version=4.16",
		"/v1/pipeline?starting_from=distgit&name=ose%20foo",
		"/v1/pipeline?starting_from=distgit&name=ose-foo&version=4.x",
		"/v1/pipeline?starting_from=dist-git&name=ose-foo",
		"/v1/pipeline?name=ose-foo",
	} {
		w, body := f.get(t, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "Invalid input values", body["payload"], target)
	}
}

func TestPipelineFailuresAreGeneric(t *testing.T) {
	lookup := &pipeline.LookupError{Stage: models.StageCdnRepo, Err: errors.New("db is gone")}
	f := newFixture(t, func(d *Deps) { d.Pipeline = stubPipeline{err: lookup} })

	w, body := f.get(t, "/v1/pipeline?starting_from=distgit&name=ose-foo&version=4.16")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error while retrieving the image pipeline", body["payload"])
	assert.NotContains(t, w.Body.String(), "db is gone")

	f = newFixture(t, func(d *Deps) { d.GAVersion = stubVersion{err: gaversion.ErrUpstreamUnavailable} })
	w, body = f.get(t, "/v1/pipeline?starting_from=distgit&name=ose-foo")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error while retrieving the image pipeline", body["payload"])
}

func TestGAVersion(t *testing.T) {
	f := newFixture(t, nil)
	w, body := f.get(t, "/v1/ga-version")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4.16", body["payload"])

	f = newFixture(t, func(d *Deps) { d.GAVersion = stubVersion{err: errors.New("timeout")} })
	w, body = f.get(t, "/v1/ga-version")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error while retrieving GA version", body["payload"])
}

func gitPRQuery(extra url.Values) string {
	v := url.Values{
		"git_user":     {"alice"},
		"branch":       {"openshift-4.16"},
		"jira_number":  {"ART-1234"},
		"file_content": {"content:\n  source: {}\n"},
		"image_name":   {"pf-status-relay"},
	}
	for k, vals := range extra {
		v[k] = vals
	}
	return v.Encode()
}

func TestGitPRTestModeByDefault(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.get(t, "/v1/git-pr?"+gitPRQuery(nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "example.com: Fake PR created successfully", body["payload"])
	assert.Equal(t, "https://github.com/DennisPeriquet/ocp-build-data/pull/10", body["pr_url"])
}

func TestGitPRWithoutTokenOutsideTestMode(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.get(t, "/v1/git-pr?"+gitPRQuery(url.Values{"test_mode": {"false"}}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, body["error"], "GITHUB_PERSONAL_ACCESS_TOKEN")
}

func TestGitPRMissingParameters(t *testing.T) {
	f := newFixture(t, nil)

	q := url.Values{"git_user": {"alice"}, "branch": {"main"}, "file_content": {"x"}, "image_name": {"img"}}
	w, body := f.get(t, "/v1/git-pr?"+q.Encode())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required parameters", body["error"])
	assert.Equal(t, []any{"jira_number"}, body["missing"])
	params := body["parameters"].(map[string]any)
	assert.Equal(t, "", params["jira_number"])
	assert.Equal(t, "alice", params["git_user"])
}

func TestGitPRReadsPostedForm(t *testing.T) {
	prs := &stubPRs{}
	f := newFixture(t, func(d *Deps) { d.PullRequests = prs })

	req := httptest.NewRequest(http.MethodPost, "/v1/git-pr", strings.NewReader(gitPRQuery(url.Values{"test_mode": {"false"}})))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w, body := f.do(t, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://github.com/alice/ocp-build-data/pull/42", body["pr_url"])
	assert.Equal(t, "ART-1234", prs.got.JiraNumber)
	require.NotNil(t, prs.got.TestMode)
	assert.False(t, prs.got.IsTestMode())
}

func TestGitPRErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{
			name:   "remote fatal keeps status",
			err:    &gitops.StepError{Step: gitops.StepGetBranch, Err: &github.RemoteError{Status: 404, Message: "Branch not found"}},
			status: http.StatusNotFound,
			want:   "git api error: Branch not found",
		},
		{
			name: "exhausted retries",
			err: &gitops.StepError{Step: gitops.StepCreateFile, Err: &retry.ExhaustedError{
				Operation: gitops.StepCreateFile, Attempts: 3, Last: &github.RemoteError{Status: 502, Message: "upstream db-7.internal timeout"},
			}},
			status: http.StatusInternalServerError,
			want:   "Unexpected error: create_file failed after retries",
		},
		{
			name:   "transport failure",
			err:    &gitops.StepError{Step: gitops.StepGetRepository, Err: errors.New(`Get "https://ghe.internal.corp/api/v3/repos": dial tcp 10.0.0.7:443: connection refused`)},
			status: http.StatusInternalServerError,
			want:   "Unexpected error while creating the pull request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.PullRequests = &stubPRs{err: tc.err} })
			w, body := f.get(t, "/v1/git-pr?"+gitPRQuery(url.Values{"test_mode": {"false"}}))
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.want, body["error"])
			for _, leaked := range []string{"internal", "10.0.0.7", "dial tcp", "502"} {
				assert.NotContains(t, w.Body.String(), leaked)
			}
		})
	}
}

func TestLoginAndCheckAuth(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(`{"username":"art","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	w, body := f.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Login successful", body["detail"])
	token := body["token"].(string)

	req = httptest.NewRequest(http.MethodGet, "/v1/check-auth", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w, body = f.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Authenticated", body["detail"])

	w, _ = f.get(t, "/v1/check-auth")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(`{"username":"art","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w, body = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid credentials", body["detail"])
}

func TestListBuilds(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.get(t, "/v1/builds?page_size=2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 3, body["count"])
	assert.Equal(t, "http://example.com/v1/builds?page=2&page_size=2", body["next"])
	assert.Nil(t, body["previous"])

	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "ose-baz-4.16.0-2.assembly.stream", results[0].(map[string]any)["build_0_nvr"])

	w, body = f.get(t, "/v1/builds?page_size=2&page=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["next"])
	assert.Equal(t, "http://example.com/v1/builds?page_size=2", body["previous"])

	w, body = f.get(t, "/v1/builds?stream_only=true&ordering=build_0_id")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])

	w, _ = f.get(t, "/v1/builds?page=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBuild(t *testing.T) {
	f := newFixture(t, nil)

	w, body := f.get(t, "/v1/builds/2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ose-bar-4.16.0-1", body["build_0_nvr"])

	w, _ = f.get(t, "/v1/builds/999")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.get(t, "/v1/builds/abc")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecoveryAndMetrics(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Pipeline = stubPipeline{panic: true} })

	w, body := f.get(t, "/v1/pipeline?starting_from=distgit&name=ose-foo&version=4.16")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", body["status"])

	errs := observability.Name(observability.MetricHTTPErrors, http.MethodGet, "/v1/pipeline")
	assert.EqualValues(t, 1, f.metrics.Counter(errs).Value())

	w, body = f.get(t, "/v1/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "counters")
}
