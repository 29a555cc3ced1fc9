package pipeline

import "github.com/askiada/go-sensor-pipeline/pkg/pipeline/model"

// StepOption configures a step before it starts.
type StepOption func(s *model.StepInfo)

// StepConcurrency sets how many goroutines consume the input of a one-to-one step.
func StepConcurrency(concurrent int) StepOption {
	return func(s *model.StepInfo) {
		s.Concurrent = concurrent
	}
}
