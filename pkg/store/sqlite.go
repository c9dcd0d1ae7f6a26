package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Promptonauts/artdash/pkg/models"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_0_id INTEGER NOT NULL DEFAULT 0,
		build_0_nvr TEXT NOT NULL DEFAULT '',
		build_0_package_id INTEGER NOT NULL DEFAULT 0,
		build_0_source TEXT NOT NULL DEFAULT '',
		dg_name TEXT NOT NULL DEFAULT '',
		dg_namespace TEXT NOT NULL DEFAULT '',
		dg_commit TEXT NOT NULL DEFAULT '',
		brew_task_id INTEGER NOT NULL DEFAULT 0,
		brew_task_state TEXT NOT NULL DEFAULT '',
		"group" TEXT NOT NULL DEFAULT '',
		label_io_openshift_build_commit_id TEXT NOT NULL DEFAULT '',
		label_io_openshift_build_commit_url TEXT NOT NULL DEFAULT '',
		jenkins_build_url TEXT NOT NULL DEFAULT '',
		time_iso DATETIME,
		build_time_iso DATETIME
	);

	CREATE TABLE IF NOT EXISTS source_repos (
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		upstream_url TEXT NOT NULL DEFAULT '',
		private_url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (name, version)
	);

	CREATE TABLE IF NOT EXISTS distgit_repos (
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		source_repo TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (name, version)
	);

	CREATE TABLE IF NOT EXISTS brew_packages (
		package_id INTEGER NOT NULL,
		package_name TEXT NOT NULL,
		version TEXT NOT NULL,
		distgit_name TEXT NOT NULL DEFAULT '',
		build_url TEXT NOT NULL DEFAULT '',
		bundle_component TEXT NOT NULL DEFAULT '',
		bundle_distgit TEXT NOT NULL DEFAULT '',
		payload_tag TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (package_id, version)
	);

	CREATE TABLE IF NOT EXISTS cdn_repos (
		id INTEGER NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		brew_package_id INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		variant_name TEXT NOT NULL DEFAULT '',
		variant_id INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id, version)
	);

	CREATE TABLE IF NOT EXISTS delivery_repos (
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		cdn_repo_id INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_builds_dg_name ON builds(dg_name);
	CREATE INDEX IF NOT EXISTS idx_builds_nvr ON builds(build_0_nvr);
	CREATE INDEX IF NOT EXISTS idx_builds_build_time ON builds(build_time_iso);
	CREATE INDEX IF NOT EXISTS idx_distgit_source ON distgit_repos(source_repo, version);
	CREATE INDEX IF NOT EXISTS idx_brew_distgit ON brew_packages(distgit_name, version);
	CREATE INDEX IF NOT EXISTS idx_brew_name ON brew_packages(package_name, version);
	CREATE INDEX IF NOT EXISTS idx_cdn_package ON cdn_repos(brew_package_id, version);
	CREATE INDEX IF NOT EXISTS idx_cdn_name ON cdn_repos(name, version);
	CREATE INDEX IF NOT EXISTS idx_delivery_cdn ON delivery_repos(cdn_repo_id, version);
	CREATE INDEX IF NOT EXISTS idx_delivery_name ON delivery_repos(name, version);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const buildColumns = `id, build_0_id, build_0_nvr, build_0_package_id, build_0_source, dg_name,
	dg_namespace, dg_commit, brew_task_id, brew_task_state, "group",
	label_io_openshift_build_commit_id, label_io_openshift_build_commit_url,
	jenkins_build_url, time_iso, build_time_iso`

func (s *SQLiteStore) ListBuilds(ctx context.Context, q BuildQuery) (*BuildPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := q.where()

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM builds"+where, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("count builds: %w", err)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	query := "SELECT " + buildColumns + " FROM builds" + where + q.orderBy() + " LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	result := &BuildPage{Count: count, Results: []*models.Build{}}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, b)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetBuild(ctx context.Context, id int64) (*models.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+buildColumns+" FROM builds WHERE id = ?", id)
	b, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("build %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query build: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) PutBuild(ctx context.Context, b *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (build_0_id, build_0_nvr, build_0_package_id, build_0_source, dg_name,
			dg_namespace, dg_commit, brew_task_id, brew_task_state, "group",
			label_io_openshift_build_commit_id, label_io_openshift_build_commit_url,
			jenkins_build_url, time_iso, build_time_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Build0ID, b.Build0NVR, b.Build0PackageID, b.Build0Source, b.DgName,
		b.DgNamespace, b.DgCommit, b.BrewTaskID, b.BrewTaskState, b.Group,
		b.LabelIOOpenshiftBuildCommitID, b.LabelIOOpenshiftBuildCommitURL,
		b.JenkinsBuildURL, utcOrNil(b.TimeISO), utcOrNil(b.BuildTimeISO))
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBuild(row scanner) (*models.Build, error) {
	var b models.Build
	var timeISO, buildTimeISO sql.NullTime
	err := row.Scan(&b.ID, &b.Build0ID, &b.Build0NVR, &b.Build0PackageID, &b.Build0Source, &b.DgName,
		&b.DgNamespace, &b.DgCommit, &b.BrewTaskID, &b.BrewTaskState, &b.Group,
		&b.LabelIOOpenshiftBuildCommitID, &b.LabelIOOpenshiftBuildCommitURL,
		&b.JenkinsBuildURL, &timeISO, &buildTimeISO)
	if err != nil {
		return nil, err
	}
	if timeISO.Valid {
		t := timeISO.Time.UTC()
		b.TimeISO = &t
	}
	if buildTimeISO.Valid {
		t := buildTimeISO.Time.UTC()
		b.BuildTimeISO = &t
	}
	return &b, nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Stage tables

func (s *SQLiteStore) SourceReposByName(ctx context.Context, name, version string) ([]*models.SourceRepo, error) {
	return querySourceRepos(ctx, s, "name = ? AND version = ?", name, version)
}

func (s *SQLiteStore) DistgitReposByName(ctx context.Context, name, version string) ([]*models.DistgitRepo, error) {
	return queryDistgitRepos(ctx, s, "name = ? AND version = ?", name, version)
}

func (s *SQLiteStore) DistgitReposBySource(ctx context.Context, sourceRepo, version string) ([]*models.DistgitRepo, error) {
	return queryDistgitRepos(ctx, s, "source_repo = ? AND version = ?", sourceRepo, version)
}

func (s *SQLiteStore) BrewPackagesByName(ctx context.Context, name, version string) ([]*models.BrewPackage, error) {
	return queryBrewPackages(ctx, s, "package_name = ? AND version = ?", name, version)
}

func (s *SQLiteStore) BrewPackagesByDistgit(ctx context.Context, distgit, version string) ([]*models.BrewPackage, error) {
	return queryBrewPackages(ctx, s, "distgit_name = ? AND version = ?", distgit, version)
}

func (s *SQLiteStore) BrewPackagesByID(ctx context.Context, id int64, version string) ([]*models.BrewPackage, error) {
	return queryBrewPackages(ctx, s, "package_id = ? AND version = ?", id, version)
}

func (s *SQLiteStore) CdnReposByName(ctx context.Context, name, version string) ([]*models.CdnRepo, error) {
	return queryCdnRepos(ctx, s, "name = ? AND version = ?", name, version)
}

func (s *SQLiteStore) CdnReposByPackage(ctx context.Context, packageID int64, version string) ([]*models.CdnRepo, error) {
	return queryCdnRepos(ctx, s, "brew_package_id = ? AND version = ?", packageID, version)
}

func (s *SQLiteStore) CdnReposByID(ctx context.Context, id int64, version string) ([]*models.CdnRepo, error) {
	return queryCdnRepos(ctx, s, "id = ? AND version = ?", id, version)
}

func (s *SQLiteStore) DeliveryReposByName(ctx context.Context, name, version string) ([]*models.DeliveryRepo, error) {
	return queryDeliveryRepos(ctx, s, "name = ? AND version = ?", name, version)
}

func (s *SQLiteStore) DeliveryReposByCdnRepo(ctx context.Context, cdnRepoID int64, version string) ([]*models.DeliveryRepo, error) {
	return queryDeliveryRepos(ctx, s, "cdn_repo_id = ? AND version = ?", cdnRepoID, version)
}

func (s *SQLiteStore) PutSourceRepo(ctx context.Context, r *models.SourceRepo) error {
	return s.exec(ctx, "upsert source repo", `
		INSERT INTO source_repos (name, version, upstream_url, private_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(name, version) DO UPDATE SET
			upstream_url = excluded.upstream_url,
			private_url = excluded.private_url
	`, r.Name, r.Version, r.UpstreamURL, r.PrivateURL)
}

func (s *SQLiteStore) PutDistgitRepo(ctx context.Context, r *models.DistgitRepo) error {
	return s.exec(ctx, "upsert distgit repo", `
		INSERT INTO distgit_repos (name, version, source_repo, url) VALUES (?, ?, ?, ?)
		ON CONFLICT(name, version) DO UPDATE SET
			source_repo = excluded.source_repo,
			url = excluded.url
	`, r.Name, r.Version, r.SourceRepo, r.URL)
}

func (s *SQLiteStore) PutBrewPackage(ctx context.Context, p *models.BrewPackage) error {
	return s.exec(ctx, "upsert brew package", `
		INSERT INTO brew_packages (package_id, package_name, version, distgit_name, build_url,
			bundle_component, bundle_distgit, payload_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_id, version) DO UPDATE SET
			package_name = excluded.package_name,
			distgit_name = excluded.distgit_name,
			build_url = excluded.build_url,
			bundle_component = excluded.bundle_component,
			bundle_distgit = excluded.bundle_distgit,
			payload_tag = excluded.payload_tag
	`, p.PackageID, p.PackageName, p.Version, p.DistgitName, p.BuildURL,
		p.BundleComponent, p.BundleDistgit, p.PayloadTag)
}

func (s *SQLiteStore) PutCdnRepo(ctx context.Context, r *models.CdnRepo) error {
	return s.exec(ctx, "upsert cdn repo", `
		INSERT INTO cdn_repos (id, name, version, brew_package_id, url, variant_name, variant_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			brew_package_id = excluded.brew_package_id,
			url = excluded.url,
			variant_name = excluded.variant_name,
			variant_id = excluded.variant_id
	`, r.ID, r.Name, r.Version, r.BrewPackageID, r.URL, r.VariantName, r.VariantID)
}

func (s *SQLiteStore) PutDeliveryRepo(ctx context.Context, r *models.DeliveryRepo) error {
	return s.exec(ctx, "upsert delivery repo", `
		INSERT INTO delivery_repos (id, name, version, cdn_repo_id, url) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			cdn_repo_id = excluded.cdn_repo_id,
			url = excluded.url
	`, r.ID, r.Name, r.Version, r.CdnRepoID, r.URL)
}

func (s *SQLiteStore) exec(ctx context.Context, what, query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// queryRows runs a read under the store lock and hands every row to scan.
func queryRows(ctx context.Context, s *SQLiteStore, what, query string, args []interface{}, scan func(scanner) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	return rows.Err()
}

func querySourceRepos(ctx context.Context, s *SQLiteStore, where string, args ...interface{}) ([]*models.SourceRepo, error) {
	var out []*models.SourceRepo
	err := queryRows(ctx, s, "query source repos",
		"SELECT name, version, upstream_url, private_url FROM source_repos WHERE "+where+" ORDER BY name",
		args, func(row scanner) error {
			var r models.SourceRepo
			if err := row.Scan(&r.Name, &r.Version, &r.UpstreamURL, &r.PrivateURL); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	return out, err
}

func queryDistgitRepos(ctx context.Context, s *SQLiteStore, where string, args ...interface{}) ([]*models.DistgitRepo, error) {
	var out []*models.DistgitRepo
	err := queryRows(ctx, s, "query distgit repos",
		"SELECT name, version, source_repo, url FROM distgit_repos WHERE "+where+" ORDER BY name",
		args, func(row scanner) error {
			var r models.DistgitRepo
			if err := row.Scan(&r.Name, &r.Version, &r.SourceRepo, &r.URL); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	return out, err
}

func queryBrewPackages(ctx context.Context, s *SQLiteStore, where string, args ...interface{}) ([]*models.BrewPackage, error) {
	var out []*models.BrewPackage
	err := queryRows(ctx, s, "query brew packages",
		`SELECT package_id, package_name, version, distgit_name, build_url,
			bundle_component, bundle_distgit, payload_tag
		FROM brew_packages WHERE `+where+" ORDER BY package_id",
		args, func(row scanner) error {
			var p models.BrewPackage
			if err := row.Scan(&p.PackageID, &p.PackageName, &p.Version, &p.DistgitName, &p.BuildURL,
				&p.BundleComponent, &p.BundleDistgit, &p.PayloadTag); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	return out, err
}

func queryCdnRepos(ctx context.Context, s *SQLiteStore, where string, args ...interface{}) ([]*models.CdnRepo, error) {
	var out []*models.CdnRepo
	err := queryRows(ctx, s, "query cdn repos",
		`SELECT id, name, version, brew_package_id, url, variant_name, variant_id
		FROM cdn_repos WHERE `+where+" ORDER BY id",
		args, func(row scanner) error {
			var r models.CdnRepo
			if err := row.Scan(&r.ID, &r.Name, &r.Version, &r.BrewPackageID, &r.URL,
				&r.VariantName, &r.VariantID); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	return out, err
}

func queryDeliveryRepos(ctx context.Context, s *SQLiteStore, where string, args ...interface{}) ([]*models.DeliveryRepo, error) {
	var out []*models.DeliveryRepo
	err := queryRows(ctx, s, "query delivery repos",
		"SELECT id, name, version, cdn_repo_id, url FROM delivery_repos WHERE "+where+" ORDER BY id",
		args, func(row scanner) error {
			var r models.DeliveryRepo
			if err := row.Scan(&r.ID, &r.Name, &r.Version, &r.CdnRepoID, &r.URL); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	return out, err
}
