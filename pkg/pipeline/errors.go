package pipeline

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPipelineMustBeSet = errors.New("p must be set")
	ErrInputMustBeSet    = errors.New("input must be set")
)

// StepError is the failure of a named step. Run returns the first one raised.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause reach the error returned by the step function.
func (e *StepError) Cause() error {
	return e.Err
}

// FailedStep returns the name of the step err was raised in, if any.
func FailedStep(err error) (string, bool) {
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return "", false
	}

	return stepErr.Step, true
}

// stepFailures is the error output of one step.
type stepFailures struct {
	step string
	errc <-chan error
}

// failureSet gathers the error outputs of every step added to a pipeline.
type failureSet struct {
	mu    sync.Mutex
	steps []*stepFailures
}

func (fs *failureSet) add(step string, errc <-chan error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.steps = append(fs.steps, &stepFailures{step: step, errc: errc})
}

func (fs *failureSet) list() []*stepFailures {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return append([]*stepFailures(nil), fs.steps...)
}

// fanInFailures forwards every step error as a *StepError on one channel,
// closed once all steps have closed theirs. It holds one error per step so
// a reader that stops early never blocks a step.
func fanInFailures(steps ...*stepFailures) <-chan error {
	var wg sync.WaitGroup

	out := make(chan error, len(steps))

	wg.Add(len(steps))

	for _, s := range steps {
		go func() {
			defer wg.Done()

			if s.errc == nil {
				return
			}

			for err := range s.errc {
				out <- &StepError{Step: s.step, Err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
