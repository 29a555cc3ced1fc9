// Package measure collects timing metrics for every step of a pipeline.
package measure

import "time"

// Measure holds one Metric per step name.
type Measure interface {
	AddMetric(name string, concurrent int) Metric
	GetMetric(name string) Metric
	AllMetrics() map[string]Metric
}

// Metric accumulates the durations observed for a single step.
type Metric interface {
	// AddDuration records the time spent computing one element.
	AddDuration(elapsed time.Duration)
	// AddTransportDuration records the time spent waiting on the input coming from inputStepName.
	AddTransportDuration(inputStepName string, elapsed time.Duration)
	AVGDuration() time.Duration
	AVGTransportDuration() map[string]*TransportInfo
	SetTotalDuration(endDuration time.Duration)
	GetTotalDuration() time.Duration
}
