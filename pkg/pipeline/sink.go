package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

func runSink[I any](ctx context.Context, pipe *Pipeline, input *model.Step[I], step *model.Step[I], sinkFn func(ctx context.Context, input I) error) error {
	for {
		startIter := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-input.Output:
			if !ok {
				return nil
			}

			endIter := time.Since(startIter)
			startFn := time.Now()

			err := sinkFn(ctx, in)
			if err != nil {
				return err
			}

			endFn := time.Since(startFn)
			for _, opt := range pipe.opts {
				err := opt.OnSinkOutput(details(input), step.Details, endIter, endFn)
				if err != nil {
					return errors.Wrap(err, "unable to run sink output hook")
				}
			}
		}
	}
}

// AddSink adds a step consuming every element of input.
func AddSink[I any](pipe *Pipeline, name string, input *model.Step[I], sinkFn func(ctx context.Context, input I) error) error {
	if pipe == nil {
		return ErrPipelineMustBeSet
	}

	if input == nil {
		return ErrInputMustBeSet
	}

	step := &model.Step[I]{
		Details: &model.StepInfo{
			Type:       model.SinkStepType,
			Name:       name,
			Concurrent: 1,
		},
	}

	for _, opt := range pipe.opts {
		err := opt.PrepareSink(details(input), step.Details)
		if err != nil {
			return errors.Wrap(err, "unable to run before sink function")
		}
	}

	errC := make(chan error, 1)
	pipe.failures.add(name, errC)

	pipe.goFn = append(pipe.goFn, func(ctx context.Context) {
		defer close(errC)

		err := runSink(ctx, pipe, input, step, sinkFn)
		if err != nil {
			errC <- err

			return
		}

		for _, opt := range pipe.opts {
			err := opt.AfterSink(step.Details, time.Since(pipe.startTime))
			if err != nil {
				errC <- errors.Wrap(err, "unable to run after sink function")

				return
			}
		}
	})

	return nil
}
