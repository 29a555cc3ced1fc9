// Package pipeline runs a streaming pipeline of typed steps connected by channels.
//
// A pipeline starts from a root step that emits elements, goes through any number of one-to-one steps
// and ends in sinks. Steps are declared first and only start when Run is called, so every pipeline
// option (measures, drawers) sees the whole topology before data flows.
//
// One-to-one steps can process elements concurrently. The first error returned by any step cancels the
// context shared by all steps; Run waits for every step to stop and returns that error wrapped with the
// name of the step that produced it.
package pipeline
