package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// AbandonedCallError reports a handle call that outlived its deadline. Done is
// closed once the abandoned call returns; the handle must not be reused before.
type AbandonedCallError struct {
	Operation string
	Timeout   time.Duration
	Done      <-chan struct{}
}

func (e *AbandonedCallError) Error() string {
	return fmt.Sprintf("%s: exceeded %s", e.Operation, e.Timeout)
}

func (e *AbandonedCallError) Unwrap() error {
	return domain.ErrTimeout
}

type callResult[T any] struct {
	value T
	err   error
}

// callWithTimeout runs fn with a deadline and stops waiting when it expires,
// even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan struct{})
	results := make(chan callResult[T], 1)
	go func() {
		defer close(done)
		defer cancel()
		value, err := fn(callCtx)
		results <- callResult[T]{value: value, err: err}
	}()

	select {
	case res := <-results:
		return finishCall(ctx, operation, res)
	case <-callCtx.Done():
		select {
		case res := <-results:
			return finishCall(ctx, operation, res)
		default:
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &AbandonedCallError{Operation: operation, Timeout: timeout, Done: done}
	}
}

func finishCall[T any](ctx context.Context, operation string, res callResult[T]) (T, error) {
	if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, domain.WrapError(domain.ErrTimeout, operation, res.err)
	}
	return res.value, res.err
}
