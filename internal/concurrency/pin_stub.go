//go:build !linux

// File: internal/concurrency/pin_stub.go
// License: Apache-2.0

package concurrency

// pinCurrentThread is a no-op on platforms without sched_setaffinity.
func pinCurrentThread(cpuID int) error { return nil }
