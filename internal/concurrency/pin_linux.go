//go:build linux

// File: internal/concurrency/pin_linux.go
// Linux thread pinning via sched_setaffinity. The caller must already hold
// runtime.LockOSThread so the affinity sticks to the loop's thread.
// License: Apache-2.0

package concurrency

import "golang.org/x/sys/unix"

func pinCurrentThread(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	// tid 0 targets the calling thread.
	return unix.SchedSetaffinity(0, &set)
}
