package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"
)

// Pipeline is a pipeline of steps.
type Pipeline struct {
	ctx       context.Context
	failures  *failureSet
	opts      []model.PipelineOption
	startTime time.Time
	goFn      []func(ctx context.Context)
}

// New creates a new pipeline bound to ctx.
func New(ctx context.Context, opts ...model.PipelineOption) (*Pipeline, error) {
	pipe := &Pipeline{
		ctx:       ctx,
		failures:  &failureSet{},
		startTime: time.Now(),
		opts:      opts,
	}

	for _, opt := range opts {
		err := opt.New()
		if err != nil {
			return nil, errors.Wrap(err, "unable to apply pipeline option")
		}
	}

	return pipe, nil
}

// waitForPipeline waits for results from all error channels.
// The first error cancels the pipeline; the remaining channels are drained so that
// every step has stopped when it returns.
func waitForPipeline(cancel context.CancelFunc, steps ...*stepFailures) error {
	var first error

	for err := range fanInFailures(steps...) {
		if err != nil && first == nil {
			first = err

			cancel()
		}
	}

	return first
}

// Run starts every step and waits for the pipeline to finish.
func (p *Pipeline) Run() error {
	dCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	p.startTime = time.Now()

	for _, fn := range p.goFn {
		go fn(dCtx)
	}

	err := waitForPipeline(cancel, p.failures.list()...)
	if err != nil {
		return err
	}

	return p.finishRun()
}

func (p *Pipeline) finishRun() error {
	for _, opt := range p.opts {
		err := opt.Finish()
		if err != nil {
			return errors.Wrap(err, "unable to finish pipeline option")
		}
	}

	return nil
}

// details returns the step description, falling back to the start step for
// hand-made input steps.
func details[T any](step *model.Step[T]) *model.StepInfo {
	if step.Details == nil {
		return model.StartStep.Details
	}

	return step.Details
}
