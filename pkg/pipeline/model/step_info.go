package model

type stepType string

const (
	RootStepType   stepType = "root"
	NormalStepType stepType = "step"
	SinkStepType   stepType = "sink"
)

// StepInfo describes a step independently of the type flowing through it.
type StepInfo struct {
	Type       stepType
	Name       string
	Concurrent int
}

var (
	StartStep = &Step[any]{Details: &StepInfo{Name: "start"}}
	EndStep   = &Step[any]{Details: &StepInfo{Name: "end"}}
)

// Step is a typed step. Output is closed once the step has nothing left to emit.
type Step[O any] struct {
	Output  chan O
	Details *StepInfo
}
