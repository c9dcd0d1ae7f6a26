package models

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is one of the five artifact types an image passes through on its way
// from source to customers.
type Stage string

const (
	StageSourceRepo     Stage = "github"
	StageDistgitPackage Stage = "distgit"
	StageBuild          Stage = "package"
	StageCdnRepo        Stage = "cdn"
	StageDeliveryRepo   Stage = "image"
)

var ErrInvalidStage = errors.New("invalid pipeline stage")

// Stages lists every stage in lineage order.
var Stages = []Stage{
	StageSourceRepo,
	StageDistgitPackage,
	StageBuild,
	StageCdnRepo,
	StageDeliveryRepo,
}

func ParseStage(s string) (Stage, error) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Stages {
		if st == candidate {
			return st, nil
		}
	}
	return "", ErrInvalidStage
}

func (s Stage) Valid() bool {
	_, err := ParseStage(string(s))
	return err == nil
}

type Artifact struct {
	Stage      Stage          `json:"stage" yaml:"stage"`
	Identifier string         `json:"identifier" yaml:"identifier"`
	Version    string         `json:"version" yaml:"version"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Key identifies the artifact within a single resolution.
func (a Artifact) Key() string {
	return string(a.Stage) + "/" + a.Identifier
}

// Meta returns a metadata value as a string, or "" when it is unset.
func (a Artifact) Meta(key string) string {
	v, ok := a.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

type PipelineNode struct {
	Artifact
	Children []*PipelineNode `json:"children"`
	Upstream []*PipelineNode `json:"upstream,omitempty"`
}

type PipelineResult struct {
	StartingFrom Stage           `json:"starting_from"`
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Roots        []*PipelineNode `json:"roots"`
}

// Depth returns the number of levels in the deepest downstream branch.
func (n *PipelineNode) Depth() int {
	if n == nil {
		return 0
	}
	deepest := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// Walk visits every node of the result, downstream children and upstream
// ancestry included.
func (r *PipelineResult) Walk(fn func(*PipelineNode)) {
	var visit func(nodes []*PipelineNode)
	visit = func(nodes []*PipelineNode) {
		for _, n := range nodes {
			fn(n)
			visit(n.Upstream)
			visit(n.Children)
		}
	}
	visit(r.Roots)
}
