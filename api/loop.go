// File: api/loop.go
// Package api defines the narrow contracts the server core consumes.
// License: Apache-2.0

package api

// Task is a unit of work executed on a loop's own goroutine.
type Task func()

// Loop is a single-goroutine cooperative task runner bound to one OS thread.
// Tasks submitted to it execute strictly on that thread, in submission order.
type Loop interface {
	// RunInLoop schedules task onto the loop. Safe to call from any
	// goroutine; the call enqueues and returns immediately. Tasks run
	// FIFO relative to other tasks on the same loop.
	RunInLoop(task Task)

	// Start launches the loop goroutine. afterStart runs on the loop
	// thread before the first task; beforeStop runs on the loop thread
	// after the last task, as the loop shuts down. With blocking set,
	// Start returns only once the loop reports running.
	Start(blocking bool, afterStart, beforeStop Task) error

	// Stop requests shutdown. It does not wait; observe IsStopped.
	Stop()

	IsRunning() bool
	IsStopped() bool

	SetName(name string)
	Name() string
}
