// File: api/pool.go
// Pool contract for worker loop selection and aggregate lifecycle.
// License: Apache-2.0

package api

// Pool is a fixed-size collection of loops, each on its own thread.
// Selection state is safe for concurrent use from multiple goroutines.
type Pool interface {
	// LoopCount returns the configured number of worker loops.
	LoopCount() int

	// NextLoop returns the next loop in rotation. Nil when the pool is empty.
	NextLoop() Loop

	// NextLoopByHash returns the loop at key mod LoopCount, so equal keys
	// always land on the same loop. Nil when the pool is empty.
	NextLoopByHash(key uint64) Loop

	// Start launches every worker loop. With blocking set, it returns only
	// once all of them report running.
	Start(blocking bool) error

	// Stop requests shutdown of every worker loop without waiting.
	Stop()

	IsRunning() bool
	IsStopped() bool
}
