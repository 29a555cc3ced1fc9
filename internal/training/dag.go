package training

import (
	"context"
	"slices"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/internal/stages"
	"github.com/askiada/go-sensor-pipeline/internal/store"
)

// stage is one vertex of the training DAG.
type stage struct {
	name string
	run  func(ctx context.Context, res *Result) error
}

func stageName(s stage) string {
	return s.name
}

// Order is the declared order of the stages, used to break ties between
// stages the DAG does not order.
var Order = []string{
	stages.IngestionStage,
	stages.ValidationStage,
	stages.TransformationStage,
	stages.TrainerStage,
	stages.EvaluationStage,
	stages.PusherStage,
}

// Dependencies lists, per stage, the stages whose artifacts it reads.
var Dependencies = map[string][]string{
	stages.ValidationStage:     {stages.IngestionStage},
	stages.TransformationStage: {stages.IngestionStage},
	stages.TrainerStage:        {stages.TransformationStage},
	stages.EvaluationStage:     {stages.IngestionStage, stages.TransformationStage, stages.TrainerStage},
	stages.PusherStage:         {stages.TransformationStage, stages.TrainerStage, stages.EvaluationStage},
}

// dag holds the stages and their dependencies.
type dag struct {
	graph graph.Graph[string, stage]
}

func newDAG(all []stage) (*dag, error) {
	g := graph.NewWithStore(stageName, store.NewMemoryStore[string, stage](), graph.Directed(), graph.PreventCycles())

	for _, s := range all {
		err := g.AddVertex(s)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add stage %s", s.name)
		}
	}

	for _, s := range all {
		for _, parent := range Dependencies[s.name] {
			err := g.AddEdge(parent, s.name)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to add dependency %s -> %s", parent, s.name)
			}
		}
	}

	return &dag{graph: g}, nil
}

// order returns the stages sorted so that every stage follows its dependencies.
func (d *dag) order() ([]stage, error) {
	names, err := graph.StableTopologicalSort(d.graph, func(a, b string) bool {
		return slices.Index(Order, a) < slices.Index(Order, b)
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to sort stages")
	}

	out := make([]stage, 0, len(names))

	for _, name := range names {
		s, err := d.graph.Vertex(name)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to get stage %s", name)
		}

		out = append(out, s)
	}

	return out, nil
}

// parents returns the direct dependencies of every stage.
func (d *dag) parents() (map[string][]string, error) {
	predecessors, err := d.graph.PredecessorMap()
	if err != nil {
		return nil, errors.Wrap(err, "unable to get predecessors")
	}

	out := make(map[string][]string, len(predecessors))

	for name, edges := range predecessors {
		for parent := range edges {
			out[name] = append(out[name], parent)
		}

		slices.Sort(out[name])
	}

	return out, nil
}
