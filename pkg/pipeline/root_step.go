package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

// AddRootStep adds the step feeding the pipeline. stepFn must stop sending once ctx is done.
func AddRootStep[O any](pipe *Pipeline, name string, stepFn func(ctx context.Context, rootChan chan<- O) error, opts ...StepOption) (*model.Step[O], error) {
	if pipe == nil {
		return nil, ErrPipelineMustBeSet
	}

	step := &model.Step[O]{
		Details: &model.StepInfo{
			Type:       model.RootStepType,
			Name:       name,
			Concurrent: 1,
		},
		Output: make(chan O),
	}

	for _, opt := range opts {
		opt(step.Details)
	}

	for _, opt := range pipe.opts {
		err := opt.PrepareStep(model.StartStep.Details, step.Details)
		if err != nil {
			return nil, errors.Wrap(err, "unable to run before step function")
		}
	}

	errC := make(chan error, 1)
	pipe.failures.add(name, errC)

	pipe.goFn = append(pipe.goFn, func(ctx context.Context) {
		defer func() {
			close(step.Output)
			close(errC)
		}()

		err := stepFn(ctx, step.Output)
		if err != nil {
			errC <- err
		}
	})

	return step, nil
}
