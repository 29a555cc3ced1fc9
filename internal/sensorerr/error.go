// Package sensorerr holds the error kind every pipeline stage failure is reported as.
package sensorerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is a stage failure. Err keeps the original cause with its stack.
type Error struct {
	Stage string
	Err   error
}

// Wrap returns err as a failure of stage. A nil err stays nil and an error
// already attributed to a stage is returned unchanged.
func Wrap(stage string, err error) error {
	if err == nil {
		return nil
	}

	var stageErr *Error
	if errors.As(err, &stageErr) {
		return err
	}

	return &Error{Stage: stage, Err: errors.WithStack(err)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause reach the root error.
func (e *Error) Cause() error {
	return e.Err
}

// Format prints the cause stack trace with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s stage failed: %+v", e.Stage, e.Err)

			return
		}

		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// StageOf returns the stage err was raised in, if any.
func StageOf(err error) (string, bool) {
	var stageErr *Error
	if !errors.As(err, &stageErr) {
		return "", false
	}

	return stageErr.Stage, true
}
