// Package pipeline resolves the lineage of an image across its five stages,
// starting from whichever stage the caller knows a name for.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
)

var ErrPipelineLookupFailed = errors.New("pipeline lookup failed")

// LookupError aborts a resolution. Stage is the stage whose data could not be
// read.
type LookupError struct {
	Stage models.Stage
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("pipeline lookup failed at stage %s: %v", e.Stage, e.Err)
}

func (e *LookupError) Is(target error) bool {
	return target == ErrPipelineLookupFailed
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// StageSource answers the lookups for one stage: the artifacts matching a
// name, and the artifacts in neighbouring stages linked to one of its own.
type StageSource interface {
	FetchRoots(ctx context.Context, name, version string) ([]models.Artifact, error)
	FetchAdjacent(ctx context.Context, a models.Artifact, targets []models.Stage) (map[models.Stage][]models.Artifact, error)
}

type Resolver struct {
	sources        map[models.Stage]StageSource
	maxConcurrency int
	logger         *slog.Logger
	metrics        *observability.MetricsRegistry
}

func NewResolver(sources map[models.Stage]StageSource, maxConcurrency int, logger *slog.Logger, metrics *observability.MetricsRegistry) *Resolver {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Resolver{
		sources:        sources,
		maxConcurrency: maxConcurrency,
		logger:         observability.Component(logger, "pipeline"),
		metrics:        metrics,
	}
}

// Resolve builds the lineage tree for name at version. Roots are the
// artifacts of the starting stage; each is expanded downstream into Children
// and upstream into Upstream. Any failed lookup fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, start models.Stage, name, version string) (*models.PipelineResult, error) {
	stage, err := models.ParseStage(string(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStage, start)
	}
	start = stage
	r.count(observability.MetricPipelineResolves)

	result, err := r.resolve(ctx, start, name, version)
	if err != nil {
		r.count(observability.MetricPipelineFailures)
		r.logger.Error("pipeline resolution failed", observability.FieldStage, string(start),
			"name", name, "version", version, observability.FieldError, err)
		return nil, err
	}
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, start models.Stage, name, version string) (*models.PipelineResult, error) {
	src, ok := r.sources[start]
	if !ok {
		return nil, &LookupError{Stage: start, Err: errors.New("no source registered")}
	}

	found, err := src.FetchRoots(ctx, name, version)
	if err != nil {
		return nil, asLookupError(start, err)
	}

	visited := make(map[string]struct{})
	roots := make([]*models.PipelineNode, 0, len(found))
	for _, a := range found {
		if a.Stage == "" {
			a.Stage = start
		}
		if _, seen := visited[a.Key()]; seen {
			continue
		}
		visited[a.Key()] = struct{}{}
		roots = append(roots, newNode(a))
	}

	if err := r.expand(ctx, roots, Downstream, visited); err != nil {
		return nil, err
	}
	if err := r.expand(ctx, roots, Upstream, visited); err != nil {
		return nil, err
	}

	result := &models.PipelineResult{
		StartingFrom: start,
		Name:         name,
		Version:      version,
		Roots:        roots,
	}

	nodes := 0
	result.Walk(func(*models.PipelineNode) { nodes++ })
	if r.metrics != nil {
		r.metrics.Histogram(observability.MetricPipelineNodes).Observe(float64(nodes))
	}
	r.logger.Debug("pipeline resolved", observability.FieldStage, string(start),
		"name", name, "version", version, "roots", len(roots), "nodes", nodes)
	return result, nil
}

// expand walks one direction level by level. The lookups of a level run
// concurrently; their results are attached afterwards in frontier order and
// then in the order the adjacency table declares, so the tree does not
// depend on which lookup finished first.
func (r *Resolver) expand(ctx context.Context, frontier []*models.PipelineNode, dir Direction, visited map[string]struct{}) error {
	for level := 0; len(frontier) > 0; level++ {
		if level >= len(models.Stages) {
			return &LookupError{Stage: frontier[0].Stage, Err: fmt.Errorf("%s traversal deeper than %d stages", dir, len(models.Stages))}
		}

		for _, n := range frontier {
			if _, ok := r.sources[n.Stage]; !ok && len(Adjacent(n.Stage, dir)) > 0 {
				return &LookupError{Stage: n.Stage, Err: errors.New("no source registered")}
			}
		}

		results := make([]map[models.Stage][]models.Artifact, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.maxConcurrency)

		for i, n := range frontier {
			targets := Adjacent(n.Stage, dir)
			if len(targets) == 0 {
				continue
			}
			i, a, src := i, n.Artifact, r.sources[n.Stage]
			g.Go(func() error {
				adj, err := src.FetchAdjacent(gctx, a, targets)
				if err != nil {
					return asLookupError(a.Stage, err)
				}
				results[i] = adj
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var next []*models.PipelineNode
		for i, n := range frontier {
			for _, st := range Adjacent(n.Stage, dir) {
				for _, a := range results[i][st] {
					if a.Stage == "" {
						a.Stage = st
					}
					if _, seen := visited[a.Key()]; seen {
						continue
					}
					visited[a.Key()] = struct{}{}

					child := newNode(a)
					if dir == Upstream {
						n.Upstream = append(n.Upstream, child)
					} else {
						n.Children = append(n.Children, child)
					}
					next = append(next, child)
				}
			}
		}
		frontier = next
	}
	return nil
}

func newNode(a models.Artifact) *models.PipelineNode {
	return &models.PipelineNode{Artifact: a, Children: []*models.PipelineNode{}}
}

func asLookupError(stage models.Stage, err error) error {
	var le *LookupError
	if errors.As(err, &le) {
		return err
	}
	return &LookupError{Stage: stage, Err: err}
}

func (r *Resolver) count(name string) {
	if r.metrics != nil {
		r.metrics.Counter(name).Inc()
	}
}
