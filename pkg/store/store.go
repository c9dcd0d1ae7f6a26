package store

import (
	"context"
	"errors"

	"github.com/Promptonauts/artdash/pkg/models"
)

var ErrNotFound = errors.New("record not found")

type Store interface {
	BuildStore
	StageStore

	Migrate() error
	Close() error
}

// BuildStore is read access to the build record table. PutBuild exists for
// seeding and tests; the API never writes builds.
type BuildStore interface {
	ListBuilds(ctx context.Context, q BuildQuery) (*BuildPage, error)
	GetBuild(ctx context.Context, id int64) (*models.Build, error)
	PutBuild(ctx context.Context, b *models.Build) error
}

type BuildPage struct {
	Count   int64
	Results []*models.Build
}

// StageStore holds the per-stage lineage tables the pipeline view is built
// from. Every lookup is scoped to one release version.
type StageStore interface {
	SourceReposByName(ctx context.Context, name, version string) ([]*models.SourceRepo, error)

	DistgitReposByName(ctx context.Context, name, version string) ([]*models.DistgitRepo, error)
	DistgitReposBySource(ctx context.Context, sourceRepo, version string) ([]*models.DistgitRepo, error)

	BrewPackagesByName(ctx context.Context, name, version string) ([]*models.BrewPackage, error)
	BrewPackagesByDistgit(ctx context.Context, distgit, version string) ([]*models.BrewPackage, error)
	BrewPackagesByID(ctx context.Context, id int64, version string) ([]*models.BrewPackage, error)

	CdnReposByName(ctx context.Context, name, version string) ([]*models.CdnRepo, error)
	CdnReposByPackage(ctx context.Context, packageID int64, version string) ([]*models.CdnRepo, error)
	CdnReposByID(ctx context.Context, id int64, version string) ([]*models.CdnRepo, error)

	DeliveryReposByName(ctx context.Context, name, version string) ([]*models.DeliveryRepo, error)
	DeliveryReposByCdnRepo(ctx context.Context, cdnRepoID int64, version string) ([]*models.DeliveryRepo, error)

	PutSourceRepo(ctx context.Context, r *models.SourceRepo) error
	PutDistgitRepo(ctx context.Context, r *models.DistgitRepo) error
	PutBrewPackage(ctx context.Context, p *models.BrewPackage) error
	PutCdnRepo(ctx context.Context, r *models.CdnRepo) error
	PutDeliveryRepo(ctx context.Context, r *models.DeliveryRepo) error
}
