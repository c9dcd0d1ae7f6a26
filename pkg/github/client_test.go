package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Promptonauts/artdash/pkg/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"server error", &RemoteError{Status: 502, Message: "Bad Gateway"}, retry.Retryable},
		{"service unavailable", &RemoteError{Status: 503}, retry.Retryable},
		{"rate limited 403", &RemoteError{Status: 403, Message: "API rate limit exceeded for user"}, retry.Retryable},
		{"secondary rate limit 429", &RemoteError{Status: 429, Message: "You have exceeded a secondary rate limit"}, retry.Retryable},
		{"typed rate limit", &RemoteError{Status: 403, RateLimited: true}, retry.Retryable},
		{"forbidden", &RemoteError{Status: 403, Message: "Resource not accessible by integration"}, retry.Fatal},
		{"not found", &RemoteError{Status: 404, Message: "Not Found"}, retry.Fatal},
		{"unprocessable", &RemoteError{Status: 422, Message: "Reference already exists"}, retry.Fatal},
		{"no response", &RemoteError{Message: "dial tcp: connection refused"}, retry.Fatal},
		{"foreign error", errors.New("boom"), retry.Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func newTestClient(t *testing.T, mux *http.ServeMux) *APIClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := NewClient("token", srv.URL+"/", srv.Client())
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAPIClientWorkflowCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/alice/ocp-build-data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		writeJSON(w, 200, map[string]interface{}{
			"name": "ocp-build-data", "owner": map[string]string{"login": "alice"},
			"default_branch": "main", "html_url": "https://github.com/alice/ocp-build-data",
		})
	})
	mux.HandleFunc("/api/v3/repos/alice/ocp-build-data/branches/openshift-4.16", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{
			"name": "openshift-4.16", "commit": map[string]string{"sha": "abc123"},
		})
	})
	mux.HandleFunc("/api/v3/repos/alice/ocp-build-data/git/refs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refs/heads/art-dashboard-new-image-x", body["ref"])
		assert.Equal(t, "abc123", body["sha"])
		writeJSON(w, 201, map[string]interface{}{"ref": body["ref"], "object": map[string]string{"sha": "abc123"}})
	})
	mux.HandleFunc("/api/v3/repos/alice/ocp-build-data/contents/images/ose-foo.yml", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "ose-foo image add", body["message"])
		assert.Equal(t, "art-dashboard-new-image-x", body["branch"])
		assert.Equal(t, "Y29udGVudDogdHJ1ZQ==", body["content"], "content is base64 encoded")
		writeJSON(w, 201, map[string]interface{}{"content": map[string]string{"path": "images/ose-foo.yml"}})
	})
	mux.HandleFunc("/api/v3/repos/alice/ocp-build-data/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "art-dashboard-new-image-x", body["head"])
		assert.Equal(t, "openshift-4.16", body["base"])
		writeJSON(w, 201, map[string]interface{}{"number": 7, "html_url": "https://github.com/alice/ocp-build-data/pull/7"})
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	repo, err := c.GetRepository(ctx, "alice", "ocp-build-data")
	require.NoError(t, err)
	assert.Equal(t, "alice", repo.Owner)
	assert.Equal(t, "main", repo.DefaultBranch)

	b, err := c.GetBranch(ctx, "alice", "ocp-build-data", "openshift-4.16")
	require.NoError(t, err)
	assert.Equal(t, "abc123", b.SHA)

	require.NoError(t, c.CreateBranch(ctx, "alice", "ocp-build-data", "art-dashboard-new-image-x", "abc123"))
	require.NoError(t, c.CreateFile(ctx, "alice", "ocp-build-data", FileChange{
		Path: "images/ose-foo.yml", Message: "ose-foo image add",
		Content: []byte("content: true"), Branch: "art-dashboard-new-image-x",
	}))

	pr, err := c.CreatePullRequest(ctx, "alice", "ocp-build-data", NewPullRequest{
		Title: "[ART-1] ose-foo image add", Head: "art-dashboard-new-image-x", Base: "openshift-4.16",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/alice/ocp-build-data/pull/7", pr.HTMLURL)
}

func TestAPIClientErrorsCarryStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/alice/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, map[string]string{"message": "Not Found"})
	})
	mux.HandleFunc("/api/v3/repos/alice/flaky", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 503, map[string]string{"message": "Service Unavailable"})
	})

	c := newTestClient(t, mux)

	_, err := c.GetRepository(context.Background(), "alice", "missing")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 404, re.Status)
	assert.Equal(t, "Not Found", re.Message)
	assert.Equal(t, retry.Fatal, Classify(err))

	_, err = c.GetRepository(context.Background(), "alice", "flaky")
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 503, re.Status)
	assert.Equal(t, retry.Retryable, Classify(err))
}
