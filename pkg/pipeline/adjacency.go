package pipeline

import "github.com/Promptonauts/artdash/pkg/models"

// Direction selects which half of the adjacency table a traversal follows.
type Direction int

const (
	Downstream Direction = iota
	Upstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// adjacency lists, per stage and direction, the stages one lookup away, in
// the order their children are attached. Upstream edges are declared here
// rather than derived by reversing the downstream ones.
var adjacency = map[models.Stage][2][]models.Stage{
	models.StageSourceRepo: {
		Downstream: {models.StageDistgitPackage},
		Upstream:   nil,
	},
	models.StageDistgitPackage: {
		Downstream: {models.StageBuild},
		Upstream:   {models.StageSourceRepo},
	},
	models.StageBuild: {
		Downstream: {models.StageCdnRepo},
		Upstream:   {models.StageDistgitPackage},
	},
	models.StageCdnRepo: {
		Downstream: {models.StageDeliveryRepo},
		Upstream:   {models.StageBuild},
	},
	models.StageDeliveryRepo: {
		Downstream: nil,
		Upstream:   {models.StageCdnRepo},
	},
}

// Adjacent returns the stages reachable from stage in one lookup. The result
// is a copy; unknown stages have no neighbours.
func Adjacent(stage models.Stage, dir Direction) []models.Stage {
	edges, ok := adjacency[stage]
	if !ok {
		return nil
	}
	out := make([]models.Stage, len(edges[dir]))
	copy(out, edges[dir])
	return out
}

func DownstreamOf(stage models.Stage) []models.Stage {
	return Adjacent(stage, Downstream)
}

func UpstreamOf(stage models.Stage) []models.Stage {
	return Adjacent(stage, Upstream)
}
