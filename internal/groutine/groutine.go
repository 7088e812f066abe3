// Package groutine starts named goroutines. The name is attached as a pprof
// label and carried in the context, so advertising loops and connection
// watchers can be told apart in profiles and logs.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

var live atomic.Int64

// Go starts fn on a goroutine labelled name.
// Example usage:
//
//	groutine.Go(ctx, "goble-advertise", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	live.Add(1)
	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer live.Add(-1)
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// Name returns the name given to Go, or "" for contexts that did not come from Go.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Live is the number of goroutines started by Go that have not returned yet.
func Live() int64 {
	return live.Load()
}
