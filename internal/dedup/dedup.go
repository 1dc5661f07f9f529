// Package dedup collapses concurrent calls for the same logical operation
// into one in-flight execution.
package dedup

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates calls by key. The key is forgotten as soon as the
// in-flight call returns, whether it succeeded or failed, so later calls
// always run fresh.
type Group[T any] struct {
	sf singleflight.Group
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for and shares that call's result. shared reports whether
// the result was handed to more than one caller.
//
// A waiting caller whose ctx ends stops waiting; the in-flight call keeps
// running for the others.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (any, error) {
		// Detached from any single caller so one waiter's cancellation
		// cannot fail the rest.
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Forget drops key so the next call starts a new execution even if one is
// still running.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}
