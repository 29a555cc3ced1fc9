package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errRead  = errors.New("collection unavailable")
	errWrite = errors.New("disk full")
)

func TestFailureSet(t *testing.T) {
	t.Parallel()

	fs := &failureSet{}
	done := make(chan struct{}, 2)

	for _, step := range []string{"split rows", "predict"} {
		go func() {
			fs.add(step, nil)

			done <- struct{}{}
		}()
	}

	<-done
	<-done

	names := []string{}
	for _, s := range fs.list() {
		names = append(names, s.step)
	}

	assert.ElementsMatch(t, []string{"split rows", "predict"}, names)
}

func TestFanInFailuresAllNil(t *testing.T) {
	t.Parallel()

	out := fanInFailures(&stepFailures{step: "read documents"}, &stepFailures{step: "collect"})
	err, open := <-out
	assert.False(t, open)
	assert.NoError(t, err)
}

func TestFanInFailuresNamesSteps(t *testing.T) {
	t.Parallel()

	read := make(chan error)
	write := make(chan error)

	go func() {
		defer close(read)
		defer close(write)

		read <- errRead

		write <- errWrite
	}()

	got := []error{}
	for err := range fanInFailures(&stepFailures{step: "read documents", errc: read}, &stepFailures{step: "write", errc: write}) {
		got = append(got, err)
	}

	sort.Slice(got, func(i, j int) bool {
		return got[i].Error() < got[j].Error()
	})

	require.Len(t, got, 2)
	require.ErrorIs(t, got[0], errRead)
	assert.Equal(t, "read documents: collection unavailable", got[0].Error())
	require.ErrorIs(t, got[1], errWrite)
	assert.Equal(t, "write: disk full", got[1].Error())
}

func TestFailedStep(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		err        error
		expectStep string
		expectOK   bool
	}{
		"step error": {
			err:        &StepError{Step: "predict", Err: errWrite},
			expectStep: "predict",
			expectOK:   true,
		},
		"wrapped step error": {
			err:        pkgerrors.Wrap(&StepError{Step: "collect", Err: errRead}, "unable to ingest"),
			expectStep: "collect",
			expectOK:   true,
		},
		"plain error": {
			err: errRead,
		},
		"nil": {},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			step, ok := FailedStep(tc.err)
			assert.Equal(t, tc.expectOK, ok)
			assert.Equal(t, tc.expectStep, step)
		})
	}
}

func TestStepErrorCause(t *testing.T) {
	t.Parallel()

	err := pkgerrors.Wrap(&StepError{Step: "predict", Err: pkgerrors.Wrap(errWrite, "chunk 3")}, "unable to predict")
	assert.Equal(t, errWrite, pkgerrors.Cause(err))
}

func TestWaitForPipelineCancelsOnFirstError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	failing := make(chan error, 1)
	failing <- errRead
	close(failing)

	blocked := make(chan error)
	go func() {
		defer close(blocked)
		<-ctx.Done()
	}()

	err := waitForPipeline(cancel, &stepFailures{step: "read documents", errc: failing}, &stepFailures{step: "collect", errc: blocked})
	require.ErrorIs(t, err, errRead)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	step, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, "read documents", step)
}
