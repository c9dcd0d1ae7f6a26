package store

import (
	"context"
	"fmt"
	"io"

	"github.com/Promptonauts/artdash/pkg/models"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML document `artdash seed` loads into an empty database.
type Seed struct {
	Builds        []*models.Build        `yaml:"builds"`
	SourceRepos   []*models.SourceRepo   `yaml:"source_repos"`
	DistgitRepos  []*models.DistgitRepo  `yaml:"distgit_repos"`
	BrewPackages  []*models.BrewPackage  `yaml:"brew_packages"`
	CdnRepos      []*models.CdnRepo      `yaml:"cdn_repos"`
	DeliveryRepos []*models.DeliveryRepo `yaml:"delivery_repos"`
}

type SeedCounts struct {
	Builds, Stages int
}

func LoadSeed(ctx context.Context, s Store, r io.Reader) (SeedCounts, error) {
	var seed Seed
	var counts SeedCounts
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		return counts, fmt.Errorf("decode seed: %w", err)
	}

	for _, b := range seed.Builds {
		if err := s.PutBuild(ctx, b); err != nil {
			return counts, err
		}
		counts.Builds++
	}
	for _, r := range seed.SourceRepos {
		if err := s.PutSourceRepo(ctx, r); err != nil {
			return counts, err
		}
		counts.Stages++
	}
	for _, r := range seed.DistgitRepos {
		if err := s.PutDistgitRepo(ctx, r); err != nil {
			return counts, err
		}
		counts.Stages++
	}
	for _, p := range seed.BrewPackages {
		if err := s.PutBrewPackage(ctx, p); err != nil {
			return counts, err
		}
		counts.Stages++
	}
	for _, r := range seed.CdnRepos {
		if err := s.PutCdnRepo(ctx, r); err != nil {
			return counts, err
		}
		counts.Stages++
	}
	for _, r := range seed.DeliveryRepos {
		if err := s.PutDeliveryRepo(ctx, r); err != nil {
			return counts, err
		}
		counts.Stages++
	}
	return counts, nil
}
