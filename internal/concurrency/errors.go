// File: internal/concurrency/errors.go
// License: Apache-2.0

package concurrency

import "errors"

var (
	// ErrLoopStarted is returned by Start on a loop that already started.
	ErrLoopStarted = errors.New("eventloop: already started")

	// ErrPoolStarted is returned by Start on a pool that already started.
	ErrPoolStarted = errors.New("looppool: already started")
)
