package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

func sequentialOneToOne[I, O any](ctx context.Context, pipe *Pipeline, goIdx int, input *model.Step[I], output *model.Step[O], oneToOneFn func(context.Context, I) (O, error)) error {
	for {
		startIter := time.Now()
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "go routine %d", goIdx)
		case in, ok := <-input.Output:
			if !ok {
				return nil
			}

			startFn := time.Now()

			out, err := oneToOneFn(ctx, in)
			if err != nil {
				return errors.Wrapf(err, "go routine %d", goIdx)
			}

			endFn := time.Since(startFn)

			// the context is checked again so that no go routine keeps feeding
			// a pipeline that is shutting down
			select {
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "go routine %d", goIdx)
			case output.Output <- out:
				endIter := time.Since(startIter) - endFn
				for _, opt := range pipe.opts {
					err := opt.OnStepOutput(details(input), output.Details, endIter, endFn)
					if err != nil {
						return errors.Wrap(err, "unable to run step output hook")
					}
				}
			}
		}
	}
}

func runOneToOne[I, O any](ctx context.Context, pipe *Pipeline, input *model.Step[I], output *model.Step[O], oneToOneFn func(context.Context, I) (O, error)) error {
	if output.Details.Concurrent <= 1 {
		return sequentialOneToOne(ctx, pipe, 0, input, output, oneToOneFn)
	}

	errGrp, dCtx := errgroup.WithContext(ctx)
	errGrp.SetLimit(output.Details.Concurrent)

	// each consumer stops as soon as one of them fails
	for goIdx := range output.Details.Concurrent {
		errGrp.Go(func() error {
			return sequentialOneToOne(dCtx, pipe, goIdx, input, output, oneToOneFn)
		})
	}

	return errGrp.Wait()
}

func prepareStep[I, O any](pipe *Pipeline, name string, input *model.Step[I], opts ...StepOption) (*model.Step[O], error) {
	step := &model.Step[O]{
		Details: &model.StepInfo{
			Type:       model.NormalStepType,
			Name:       name,
			Concurrent: 1,
		},
		Output: make(chan O),
	}

	for _, opt := range opts {
		opt(step.Details)
	}

	for _, opt := range pipe.opts {
		err := opt.PrepareStep(details(input), step.Details)
		if err != nil {
			return nil, errors.Wrap(err, "unable to run before step function")
		}
	}

	return step, nil
}

// AddStepOneToOne adds a step that maps every input element to exactly one output element.
// With StepConcurrency above one, elements are processed concurrently and their order is not kept.
func AddStepOneToOne[I, O any](pipe *Pipeline, name string, input *model.Step[I], oneToOneFn func(context.Context, I) (O, error), opts ...StepOption) (*model.Step[O], error) {
	if pipe == nil {
		return nil, ErrPipelineMustBeSet
	}

	if input == nil {
		return nil, ErrInputMustBeSet
	}

	step, err := prepareStep[I, O](pipe, name, input, opts...)
	if err != nil {
		return nil, err
	}

	errC := make(chan error, 1)
	pipe.failures.add(name, errC)

	pipe.goFn = append(pipe.goFn, func(ctx context.Context) {
		defer func() {
			close(step.Output)
			close(errC)
		}()

		err := runOneToOne(ctx, pipe, input, step, oneToOneFn)
		if err != nil {
			errC <- err
		}
	})

	return step, nil
}
