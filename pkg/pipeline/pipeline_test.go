package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askiada/go-sensor-pipeline/pkg/pipeline"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/drawer"
	"github.com/askiada/go-sensor-pipeline/pkg/pipeline/measure"
)

func emit(total int) func(ctx context.Context, rootChan chan<- int) error {
	return func(ctx context.Context, rootChan chan<- int) error {
		for i := range total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rootChan <- i:
			}
		}

		return nil
	}
}

func TestAddRootStepNilPipe(t *testing.T) {
	t.Parallel()

	_, err := pipeline.AddRootStep(nil, "root step", emit(10))
	require.ErrorIs(t, err, pipeline.ErrPipelineMustBeSet)
}

func TestAddStepOneToOneNilInput(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	_, err = pipeline.AddStepOneToOne[int, int](pipe, "double", nil, func(_ context.Context, input int) (int, error) {
		return input * 2, nil
	})
	require.ErrorIs(t, err, pipeline.ErrInputMustBeSet)
}

func TestAddSinkNilPipe(t *testing.T) {
	t.Parallel()

	err := pipeline.AddSink[int](nil, "collect", nil, func(_ context.Context, _ int) error {
		return nil
	})
	require.ErrorIs(t, err, pipeline.ErrPipelineMustBeSet)
}

func TestRun(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		concurrent int
	}{
		"sequential":    {concurrent: 1},
		"concurrent 4":  {concurrent: 4},
		"concurrent 20": {concurrent: 20},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			pipe, err := pipeline.New(t.Context())
			require.NoError(t, err)

			root, err := pipeline.AddRootStep(pipe, "numbers", emit(10))
			require.NoError(t, err)

			formatted, err := pipeline.AddStepOneToOne(pipe, "format", root, func(_ context.Context, input int) (string, error) {
				return strconv.Itoa(input), nil
			}, pipeline.StepConcurrency(tc.concurrent))
			require.NoError(t, err)

			got := []string{}
			err = pipeline.AddSink(pipe, "collect", formatted, func(_ context.Context, input string) error {
				got = append(got, input)

				return nil
			})
			require.NoError(t, err)

			require.NoError(t, pipe.Run())
			assert.ElementsMatch(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, got)
		})
	}
}

func TestRunStepError(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "numbers", emit(100))
	require.NoError(t, err)

	checked, err := pipeline.AddStepOneToOne(pipe, "check", root, func(_ context.Context, input int) (int, error) {
		if input == 42 {
			return 0, assert.AnError
		}

		return input, nil
	}, pipeline.StepConcurrency(3))
	require.NoError(t, err)

	err = pipeline.AddSink(pipe, "discard", checked, func(_ context.Context, _ int) error {
		return nil
	})
	require.NoError(t, err)

	err = pipe.Run()
	require.ErrorIs(t, err, assert.AnError)

	step, ok := pipeline.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "check", step)
}

func TestRunSinkError(t *testing.T) {
	t.Parallel()

	pipe, err := pipeline.New(t.Context())
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "numbers", emit(100))
	require.NoError(t, err)

	err = pipeline.AddSink(pipe, "store", root, func(_ context.Context, input int) error {
		if input == 7 {
			return assert.AnError
		}

		return nil
	})
	require.NoError(t, err)

	err = pipe.Run()
	require.ErrorIs(t, err, assert.AnError)

	step, ok := pipeline.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "store", step)
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	pipe, err := pipeline.New(ctx)
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "numbers", emit(100))
	require.NoError(t, err)

	err = pipeline.AddSink(pipe, "discard", root, func(_ context.Context, _ int) error {
		return nil
	})
	require.NoError(t, err)

	require.ErrorIs(t, pipe.Run(), context.Canceled)
}

func TestRunWithMeasureAndDrawer(t *testing.T) {
	t.Parallel()

	dotFile := filepath.Join(t.TempDir(), "pipeline.dot")
	msr := measure.NewDefaultMeasure()

	pipe, err := pipeline.New(t.Context(),
		measure.PipelineMeasure(msr),
		drawer.PipelineDrawer(drawer.NewDOTDrawer(dotFile), msr),
	)
	require.NoError(t, err)

	root, err := pipeline.AddRootStep(pipe, "numbers", emit(20))
	require.NoError(t, err)

	squared, err := pipeline.AddStepOneToOne(pipe, "square", root, func(_ context.Context, input int) (int, error) {
		return input * input, nil
	}, pipeline.StepConcurrency(2))
	require.NoError(t, err)

	total := 0
	err = pipeline.AddSink(pipe, "sum", squared, func(_ context.Context, input int) error {
		total += input

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, pipe.Run())
	assert.Equal(t, 2470, total)

	metrics := msr.AllMetrics()
	assert.Contains(t, metrics, "start")
	assert.Contains(t, metrics, "square")
	assert.Contains(t, metrics, "sum")
	assert.Positive(t, metrics["sum"].GetTotalDuration())

	content, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"numbers" -> "square"`)
	assert.Contains(t, string(content), `"square" -> "sum"`)
	assert.Contains(t, string(content), `"sum" -> "end"`)
}
