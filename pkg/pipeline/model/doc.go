// Package model holds the data structures shared by the step engine and its options:
// step descriptions, typed steps and the hook interface every pipeline option implements.
package model
