// Package executor starts named, pprof-labelled goroutines: every
// background loop in this module (availability watcher, async API
// spawns, the bleadapter notify drain and disconnect monitor) runs
// under a name a profiler or a stack dump can attribute.
package executor

import (
	"context"
	"runtime/pprof"
)

// Spawn starts a named goroutine, labelled for pprof, running fn until it
// returns or parentCtx is done. If parentCtx is nil, context.Background()
// is used.
func Spawn(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("executor", name)
	go pprof.Do(parentCtx, labels, fn)
}
