// File: server/options.go
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/loopforge/evhttp/control"
	"github.com/loopforge/evhttp/internal/concurrency"
)

// Policy selects how dispatched requests spread over the worker pool.
type Policy int

const (
	// RoundRobin rotates over the pool; near-even long-run distribution,
	// no affinity guarantee.
	RoundRobin Policy = iota

	// SourceHash keys on the remote address, so all requests from one
	// source stay on one worker loop, trading evenness for locality.
	SourceHash
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithPolicy sets the load-distribution policy.
func WithPolicy(p Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithLogger sets the structured logger; nil falls back to a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the server's Prometheus instrumentation; the default is
// a fresh registry per server.
func WithMetrics(m *control.ServerMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLoopOptions passes loop construction options (CPU pinning and the
// like) through to every loop the server creates.
func WithLoopOptions(opts ...concurrency.LoopOption) Option {
	return func(s *Server) { s.loopOpts = opts }
}
