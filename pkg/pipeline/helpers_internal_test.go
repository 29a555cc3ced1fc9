package pipeline

import (
	"context"
	"testing"
)

// feed sends 0..total-1 on a new channel, calling cancel, when set, before
// sending cancelAt.
func feed(t *testing.T, total int, cancelAt int, cancel context.CancelFunc) chan int {
	t.Helper()

	in := make(chan int)

	go func() {
		defer close(in)

		for i := range total {
			if cancel != nil && i == cancelAt {
				cancel()
			}

			in <- i
		}
	}()

	return in
}

// drain reads c until it is closed.
func drain[T any](t *testing.T, c chan T) []T {
	t.Helper()

	got := []T{}
	for v := range c {
		got = append(got, v)
	}

	return got
}
