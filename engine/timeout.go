package engine

import (
	"context"
	"fmt"
	"time"
)

// callResult carries a suspending call's outcome across the goroutine
// boundary of runWithTimeout.
type callResult struct {
	val any
	err error
}

// runWithTimeout runs fn under a child context bounded by timeout.
// Expiry and parent-context cancellation both surface as TimeoutError;
// fn's panics are recovered into plain errors so a misbehaving custom
// function cannot take down an evaluation.
func runWithTimeout(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("%s panicked: %v", op, r)}
			}
		}()
		v, err := fn(cctx)
		done <- callResult{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-cctx.Done():
		return nil, &TimeoutError{Op: op, Timeout: timeout}
	}
}
