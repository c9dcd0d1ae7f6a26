// Package gaversion supplies the OpenShift version used when a request does
// not name one.
package gaversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Promptonauts/artdash/pkg/cache"
	"github.com/Promptonauts/artdash/pkg/observability"
)

var ErrUpstreamUnavailable = errors.New("ga version unavailable")

// Source returns the current GA version as MAJOR.MINOR.
type Source interface {
	GAVersion(ctx context.Context) (string, error)
}

// Normalize reduces any version semver can parse ("4.16", "v4.16.3") to
// MAJOR.MINOR.
func Normalize(raw string) (string, error) {
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse ga version %q: %w", raw, err)
	}
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor()), nil
}

type StaticSource string

func (s StaticSource) GAVersion(context.Context) (string, error) {
	return Normalize(string(s))
}

// HTTPSource reads a YAML document over HTTP and takes the version from a
// dotted key path, e.g. "releases.ga".
type HTTPSource struct {
	URL    string
	Key    string
	Client *http.Client
}

func NewHTTPSource(url, key string, timeout time.Duration) *HTTPSource {
	if key == "" {
		key = "ga_version"
	}
	return &HTTPSource{URL: url, Key: key, Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) GAVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", err
	}
	hc := s.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", s.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.URL, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode %s: %w", s.URL, err)
	}
	raw, err := lookup(&doc, s.Key)
	if err != nil {
		return "", err
	}
	return Normalize(raw)
}

// lookup walks mapping nodes along a dotted path and returns the scalar's
// literal text. Working on nodes keeps "4.10" from turning into 4.1.
func lookup(doc *yaml.Node, path string) (string, error) {
	n := doc
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	for _, part := range strings.Split(path, ".") {
		if n.Kind != yaml.MappingNode {
			return "", fmt.Errorf("key %q: %q is not a mapping", path, part)
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return "", fmt.Errorf("key %q not found", path)
		}
		n = next
	}
	if n.Kind != yaml.ScalarNode || n.Value == "" {
		return "", fmt.Errorf("key %q is not a version", path)
	}
	return n.Value, nil
}

const cacheKey = "ga_version"

type Resolver struct {
	source Source
	cache  *cache.Cache
	logger *slog.Logger
}

// NewResolver wraps source. c may be nil to disable memoisation.
func NewResolver(source Source, c *cache.Cache, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, cache: c, logger: observability.Component(logger, "gaversion")}
}

// Resolve returns explicit unchanged when it is set, otherwise the current
// GA version.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return r.Current(ctx)
}

func (r *Resolver) Current(ctx context.Context) (string, error) {
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(string), nil
	}
	if r.source == nil {
		return "", fmt.Errorf("%w: no source configured", ErrUpstreamUnavailable)
	}
	v, err := r.source.GAVersion(ctx)
	if err != nil {
		r.logger.Warn("ga version lookup failed", observability.FieldError, err)
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	r.cache.Set(cacheKey, v)
	return v, nil
}
