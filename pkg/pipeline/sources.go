package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Promptonauts/artdash/pkg/cache"
	"github.com/Promptonauts/artdash/pkg/models"
	"github.com/Promptonauts/artdash/pkg/observability"
	"github.com/Promptonauts/artdash/pkg/store"
)

// Metadata keys carried on artifacts. They match the field names the
// dashboard frontend renders.
const (
	MetaOpenshiftVersion  = "openshift_version"
	MetaGithubRepo        = "github_repo"
	MetaUpstreamGithubURL = "upstream_github_url"
	MetaPrivateGithubURL  = "private_github_url"
	MetaDistgitRepoName   = "distgit_repo_name"
	MetaDistgitURL        = "distgit_url"
	MetaSourceRepo        = "source_repo"
	MetaBrewID            = "brew_id"
	MetaBrewPackageID     = "brew_package_id"
	MetaDistgitName       = "distgit_name"
	MetaBrewBuildURL      = "brew_build_url"
	MetaBrewPackageName   = "brew_package_name"
	MetaBundleComponent   = "bundle_component"
	MetaBundleDistgit     = "bundle_distgit"
	MetaPayloadTag        = "payload_tag"
	MetaCdnRepoID         = "cdn_repo_id"
	MetaCdnRepoName       = "cdn_repo_name"
	MetaCdnRepoURL        = "cdn_repo_url"
	MetaVariantName       = "variant_name"
	MetaVariantID         = "variant_id"
	MetaDeliveryRepoID    = "delivery_repo_id"
	MetaDeliveryRepoName  = "delivery_repo_name"
	MetaDeliveryRepoURL   = "delivery_repo_url"
)

type lookupFunc func(ctx context.Context, key, version string) ([]models.Artifact, error)

// tableSource is a StageSource described entirely by data: how to find the
// stage's own artifacts by name, and for each neighbouring stage, which
// metadata key of an artifact feeds which lookup.
type tableSource struct {
	stage models.Stage
	roots lookupFunc
	links map[models.Stage]link
	cache *cache.Cache
	hits  *observability.Counter
}

type link struct {
	key    string
	lookup lookupFunc
}

func (s *tableSource) FetchRoots(ctx context.Context, name, version string) ([]models.Artifact, error) {
	return s.cached(ctx, "roots|"+string(s.stage)+"|"+name+"|"+version, func(ctx context.Context) ([]models.Artifact, error) {
		return s.roots(ctx, name, version)
	})
}

func (s *tableSource) FetchAdjacent(ctx context.Context, a models.Artifact, targets []models.Stage) (map[models.Stage][]models.Artifact, error) {
	out := make(map[models.Stage][]models.Artifact, len(targets))
	for _, target := range targets {
		l, ok := s.links[target]
		if !ok {
			return nil, &LookupError{Stage: target, Err: fmt.Errorf("no lookup from %s to %s", s.stage, target)}
		}
		key := a.Meta(l.key)
		if key == "" {
			out[target] = nil
			continue
		}
		arts, err := s.cached(ctx, "adj|"+a.Key()+"|"+string(target)+"|"+a.Version, func(ctx context.Context) ([]models.Artifact, error) {
			return l.lookup(ctx, key, a.Version)
		})
		if err != nil {
			return nil, &LookupError{Stage: target, Err: err}
		}
		out[target] = arts
	}
	return out, nil
}

func (s *tableSource) cached(ctx context.Context, key string, fn func(context.Context) ([]models.Artifact, error)) ([]models.Artifact, error) {
	if v, ok := s.cache.Get(key); ok {
		if s.hits != nil {
			s.hits.Inc()
		}
		return v.([]models.Artifact), nil
	}
	arts, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, arts)
	return arts, nil
}

// NewStoreSources returns one source per stage backed by the lineage tables.
// c may be nil.
func NewStoreSources(st store.StageStore, c *cache.Cache, metrics *observability.MetricsRegistry) map[models.Stage]StageSource {
	var hits *observability.Counter
	if metrics != nil {
		hits = metrics.Counter(observability.MetricPipelineCacheHits)
	}

	sourceRepos := func(ctx context.Context, name, version string) ([]models.Artifact, error) {
		rows, err := st.SourceReposByName(ctx, name, version)
		return mapRows(rows, err, sourceRepoArtifact)
	}
	distgitByName := func(ctx context.Context, name, version string) ([]models.Artifact, error) {
		rows, err := st.DistgitReposByName(ctx, name, version)
		return mapRows(rows, err, distgitArtifact)
	}
	distgitBySource := func(ctx context.Context, src, version string) ([]models.Artifact, error) {
		rows, err := st.DistgitReposBySource(ctx, src, version)
		return mapRows(rows, err, distgitArtifact)
	}
	packagesByName := func(ctx context.Context, name, version string) ([]models.Artifact, error) {
		rows, err := st.BrewPackagesByName(ctx, name, version)
		return mapRows(rows, err, brewArtifact)
	}
	packagesByDistgit := func(ctx context.Context, dg, version string) ([]models.Artifact, error) {
		rows, err := st.BrewPackagesByDistgit(ctx, dg, version)
		return mapRows(rows, err, brewArtifact)
	}
	packagesByID := func(ctx context.Context, id, version string) ([]models.Artifact, error) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("brew package id %q: %w", id, err)
		}
		rows, err := st.BrewPackagesByID(ctx, n, version)
		return mapRows(rows, err, brewArtifact)
	}
	cdnByName := func(ctx context.Context, name, version string) ([]models.Artifact, error) {
		rows, err := st.CdnReposByName(ctx, name, version)
		return mapRows(rows, err, cdnArtifact)
	}
	cdnByPackage := func(ctx context.Context, id, version string) ([]models.Artifact, error) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("brew package id %q: %w", id, err)
		}
		rows, err := st.CdnReposByPackage(ctx, n, version)
		return mapRows(rows, err, cdnArtifact)
	}
	cdnByID := func(ctx context.Context, id, version string) ([]models.Artifact, error) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cdn repo id %q: %w", id, err)
		}
		rows, err := st.CdnReposByID(ctx, n, version)
		return mapRows(rows, err, cdnArtifact)
	}
	deliveryByName := func(ctx context.Context, name, version string) ([]models.Artifact, error) {
		rows, err := st.DeliveryReposByName(ctx, name, version)
		return mapRows(rows, err, deliveryArtifact)
	}
	deliveryByCdn := func(ctx context.Context, id, version string) ([]models.Artifact, error) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cdn repo id %q: %w", id, err)
		}
		rows, err := st.DeliveryReposByCdnRepo(ctx, n, version)
		return mapRows(rows, err, deliveryArtifact)
	}

	sources := map[models.Stage]*tableSource{
		models.StageSourceRepo: {
			roots: sourceRepos,
			links: map[models.Stage]link{
				models.StageDistgitPackage: {MetaGithubRepo, distgitBySource},
			},
		},
		models.StageDistgitPackage: {
			roots: distgitByName,
			links: map[models.Stage]link{
				models.StageBuild:      {MetaDistgitRepoName, packagesByDistgit},
				models.StageSourceRepo: {MetaSourceRepo, sourceRepos},
			},
		},
		models.StageBuild: {
			roots: packagesByName,
			links: map[models.Stage]link{
				models.StageCdnRepo:        {MetaBrewID, cdnByPackage},
				models.StageDistgitPackage: {MetaDistgitName, distgitByName},
			},
		},
		models.StageCdnRepo: {
			roots: cdnByName,
			links: map[models.Stage]link{
				models.StageDeliveryRepo: {MetaCdnRepoID, deliveryByCdn},
				models.StageBuild:        {MetaBrewPackageID, packagesByID},
			},
		},
		models.StageDeliveryRepo: {
			roots: deliveryByName,
			links: map[models.Stage]link{
				models.StageCdnRepo: {MetaCdnRepoID, cdnByID},
			},
		},
	}

	out := make(map[models.Stage]StageSource, len(sources))
	for stage, s := range sources {
		s.stage, s.cache, s.hits = stage, c, hits
		out[stage] = s
	}
	return out
}

func mapRows[T any](rows []T, err error, fn func(T) models.Artifact) ([]models.Artifact, error) {
	if err != nil {
		return nil, err
	}
	out := make([]models.Artifact, 0, len(rows))
	for _, r := range rows {
		out = append(out, fn(r))
	}
	return out, nil
}

func sourceRepoArtifact(r *models.SourceRepo) models.Artifact {
	return models.Artifact{
		Stage:      models.StageSourceRepo,
		Identifier: r.Name,
		Version:    r.Version,
		Metadata: map[string]any{
			MetaOpenshiftVersion:  r.Version,
			MetaGithubRepo:        r.Name,
			MetaUpstreamGithubURL: r.UpstreamURL,
			MetaPrivateGithubURL:  r.PrivateURL,
		},
	}
}

func distgitArtifact(r *models.DistgitRepo) models.Artifact {
	return models.Artifact{
		Stage:      models.StageDistgitPackage,
		Identifier: r.Name,
		Version:    r.Version,
		Metadata: map[string]any{
			MetaDistgitRepoName: r.Name,
			MetaDistgitURL:      r.URL,
			MetaSourceRepo:      r.SourceRepo,
		},
	}
}

func brewArtifact(p *models.BrewPackage) models.Artifact {
	return models.Artifact{
		Stage:      models.StageBuild,
		Identifier: p.PackageName,
		Version:    p.Version,
		Metadata: map[string]any{
			MetaBrewID:          p.PackageID,
			MetaBrewBuildURL:    p.BuildURL,
			MetaBrewPackageName: p.PackageName,
			MetaBundleComponent: p.BundleComponent,
			MetaBundleDistgit:   p.BundleDistgit,
			MetaDistgitName:     p.DistgitName,
			MetaPayloadTag:      p.PayloadTag,
		},
	}
}

func cdnArtifact(r *models.CdnRepo) models.Artifact {
	return models.Artifact{
		Stage:      models.StageCdnRepo,
		Identifier: r.Name,
		Version:    r.Version,
		Metadata: map[string]any{
			MetaCdnRepoID:     r.ID,
			MetaCdnRepoName:   r.Name,
			MetaCdnRepoURL:    r.URL,
			MetaVariantName:   r.VariantName,
			MetaVariantID:     r.VariantID,
			MetaBrewPackageID: r.BrewPackageID,
		},
	}
}

func deliveryArtifact(r *models.DeliveryRepo) models.Artifact {
	return models.Artifact{
		Stage:      models.StageDeliveryRepo,
		Identifier: r.Name,
		Version:    r.Version,
		Metadata: map[string]any{
			MetaDeliveryRepoID:   r.ID,
			MetaDeliveryRepoName: r.Name,
			MetaDeliveryRepoURL:  r.URL,
			MetaCdnRepoID:        r.CdnRepoID,
		},
	}
}
