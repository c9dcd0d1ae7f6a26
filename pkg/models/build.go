package models

import "time"

// Build is one row of the ART build record table.
type Build struct {
	ID                             int64      `json:"id" yaml:"id"`
	Build0ID                       int64      `json:"build_0_id" yaml:"build_0_id"`
	Build0NVR                      string     `json:"build_0_nvr" yaml:"build_0_nvr"`
	Build0PackageID                int64      `json:"build_0_package_id" yaml:"build_0_package_id"`
	Build0Source                   string     `json:"build_0_source,omitempty" yaml:"build_0_source,omitempty"`
	DgName                         string     `json:"dg_name" yaml:"dg_name"`
	DgNamespace                    string     `json:"dg_namespace" yaml:"dg_namespace"`
	DgCommit                       string     `json:"dg_commit" yaml:"dg_commit"`
	BrewTaskID                     int64      `json:"brew_task_id" yaml:"brew_task_id"`
	BrewTaskState                  string     `json:"brew_task_state" yaml:"brew_task_state"`
	Group                          string     `json:"group" yaml:"group"`
	LabelIOOpenshiftBuildCommitID  string     `json:"label_io_openshift_build_commit_id" yaml:"label_io_openshift_build_commit_id"`
	LabelIOOpenshiftBuildCommitURL string     `json:"label_io_openshift_build_commit_url" yaml:"label_io_openshift_build_commit_url"`
	JenkinsBuildURL                string     `json:"jenkins_build_url" yaml:"jenkins_build_url"`
	TimeISO                        *time.Time `json:"time_iso,omitempty" yaml:"time_iso,omitempty"`
	BuildTimeISO                   *time.Time `json:"build_time_iso,omitempty" yaml:"build_time_iso,omitempty"`
}

// Stage table rows. They feed the pipeline stage sources and the seed loader.

type SourceRepo struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	UpstreamURL string `json:"upstream_github_url" yaml:"upstream_github_url"`
	PrivateURL  string `json:"private_github_url" yaml:"private_github_url"`
}

type DistgitRepo struct {
	Name       string `json:"distgit_repo_name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	SourceRepo string `json:"source_repo" yaml:"source_repo"`
	URL        string `json:"distgit_url" yaml:"url"`
}

type BrewPackage struct {
	PackageID       int64  `json:"brew_id" yaml:"package_id"`
	PackageName     string `json:"brew_package_name" yaml:"package_name"`
	Version         string `json:"version" yaml:"version"`
	DistgitName     string `json:"distgit_name" yaml:"distgit_name"`
	BuildURL        string `json:"brew_build_url" yaml:"build_url"`
	BundleComponent string `json:"bundle_component" yaml:"bundle_component"`
	BundleDistgit   string `json:"bundle_distgit" yaml:"bundle_distgit"`
	PayloadTag      string `json:"payload_tag" yaml:"payload_tag"`
}

type CdnRepo struct {
	ID            int64  `json:"cdn_repo_id" yaml:"id"`
	Name          string `json:"cdn_repo_name" yaml:"name"`
	Version       string `json:"version" yaml:"version"`
	BrewPackageID int64  `json:"brew_package_id" yaml:"brew_package_id"`
	URL           string `json:"cdn_repo_url" yaml:"url"`
	VariantName   string `json:"variant_name" yaml:"variant_name"`
	VariantID     int64  `json:"variant_id" yaml:"variant_id"`
}

type DeliveryRepo struct {
	ID        string `json:"delivery_repo_id" yaml:"id"`
	Name      string `json:"delivery_repo_name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	CdnRepoID int64  `json:"cdn_repo_id" yaml:"cdn_repo_id"`
	URL       string `json:"delivery_repo_url" yaml:"url"`
}
