// Package stream adapts a pull cursor into a push channel. It exists
// because spec §9's reactive-streams note asks for exactly this and
// nothing more: the core stays a pull iterator, and any push consumer
// gets a thin, cancellation-aware wrapper rather than a dependency on
// a full reactive-streams library (none exists in the retrieval pack
// for this domain).
package stream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PullCursor is the minimal shape Stream needs from a komodo.Cursor:
// a truthful, side-effect-free HasNext and a Next that fails once
// exhausted.
type PullCursor[T any] interface {
	HasNext() bool
	Next() (T, error)
}

// Result is one item delivered by Stream: either a value or a
// terminal error. A Result with a non-nil Err is always the last
// value sent before the channel closes.
type Result[T any] struct {
	Value T
	Err   error
}

// Stream drains cur on an internal goroutine and delivers each
// element as a Result on the returned channel, which is closed when
// cur is exhausted, cur.Next fails, or ctx is cancelled. No call to
// cur.Next is made once ctx.Done() has fired; cancellation is checked
// before every pull, never mid-pull, since Next itself is not
// cancellable.
func Stream[T any](ctx context.Context, cur PullCursor[T]) <-chan Result[T] {
	out := make(chan Result[T])

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(out)
		for cur.HasNext() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			v, err := cur.Next()
			if err != nil {
				select {
				case out <- Result[T]{Err: err}:
				case <-ctx.Done():
				}
				return err
			}

			select {
			case out <- Result[T]{Value: v}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return out
}
