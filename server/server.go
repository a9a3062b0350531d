// File: server/server.go
// Package server is the orchestration core of the multi-threaded HTTP
// front end: it owns the worker loop pool, one acceptor loop per listening
// port, the handler registry, and the cross-thread dispatch between them.
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loopforge/evhttp/control"
	"github.com/loopforge/evhttp/internal/concurrency"
	"github.com/loopforge/evhttp/service"
)

// pollInterval paces the blocking Start/Stop spin. The loop-start signal is
// itself asynchronous, so the aggregate state is polled at micro scale
// rather than waited on.
const pollInterval = time.Microsecond

// ErrNoPorts is returned by Start when called without listen ports.
var ErrNoPorts = errors.New("server: no listen ports")

// acceptor pairs one dedicated loop with the service bound to one port.
// Created during Start; the loop's shutdown hook stops the service.
type acceptor struct {
	loop *concurrency.EventLoop
	svc  *service.Service
	port int
}

// Server owns a worker pool, an ordered acceptor list and the handler
// registry. The registry is mutated only before Start and read-only after,
// so dispatch needs no synchronization on it. The derived lifecycle state
// is a conjunction over the pool and every acceptor loop; there is no
// single authoritative state field.
type Server struct {
	pool    *concurrency.Pool
	policy  Policy
	logger  *zap.Logger
	metrics *control.ServerMetrics

	loopOpts []concurrency.LoopOption

	acceptors []*acceptor

	handlers       map[string]service.HandlerFunc
	defaultHandler service.HandlerFunc
}

// New creates a server with workers worker loops. Zero workers selects
// in-line mode: acceptor loops both accept and process.
func New(workers int, opts ...Option) *Server {
	s := &Server{
		policy:   RoundRobin,
		logger:   zap.NewNop(),
		handlers: make(map[string]service.HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewServerMetrics(nil)
	}
	s.pool = concurrency.NewPool(workers, s.loopOpts...)
	return s
}

// NewFromConfig builds a server from a control.Config.
func NewFromConfig(cfg *control.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy := RoundRobin
	if cfg.Policy == control.PolicySourceHash {
		policy = SourceHash
	}
	return New(cfg.Workers, append([]Option{WithPolicy(policy)}, opts...)...), nil
}

// RegisterHandler maps uri (exact match) to h. Legal only before the
// server is running; registering afterwards is a sequencing bug and
// panics.
func (s *Server) RegisterHandler(uri string, h service.HandlerFunc) {
	if s.IsRunning() {
		panic("server: RegisterHandler called while running")
	}
	s.handlers[uri] = h
}

// RegisterDefaultHandler stores the fallback handler for unmatched URIs.
// Same pre-start constraint as RegisterHandler.
func (s *Server) RegisterDefaultHandler(h service.HandlerFunc) {
	if s.IsRunning() {
		panic("server: RegisterDefaultHandler called while running")
	}
	s.defaultHandler = h
}

// Start launches the worker pool, then one acceptor per port in order, and
// returns only once the aggregate state reports running. A bind failure at
// position k aborts the remaining ports and returns the error, but does
// not roll back acceptors started for positions before k; callers wanting
// a clean slate must call Stop(true) themselves.
func (s *Server) Start(ports ...int) error {
	if len(ports) == 0 {
		return ErrNoPorts
	}
	if err := s.pool.Start(true); err != nil {
		return err
	}
	for _, port := range ports {
		if err := s.startListener(port); err != nil {
			return err
		}
	}
	for !s.IsRunning() {
		time.Sleep(pollInterval)
	}
	return nil
}

// startListener brings up one acceptor: a fresh loop, a service bound to
// it, the listening socket, and the dispatcher-wrapped handler table.
func (s *Server) startListener(port int) error {
	loop := concurrency.NewEventLoop(s.loopOpts...)
	loop.SetName(fmt.Sprintf("http-acceptor-%d", port))
	svc := service.New(loop, s.logger)
	if err := svc.Listen(port); err != nil {
		s.logger.Error("http server listen failed",
			zap.Int("port", port), zap.Error(err))
		s.metrics.BindFailures.Inc()
		svc.Stop()
		return err
	}
	// When the acceptor loop stops, the service stops with it.
	if err := loop.Start(true, nil, svc.Stop); err != nil {
		svc.Stop()
		return err
	}
	// Every acceptor carries the full registry, wrapped so each request
	// routes through the dispatcher. Registration marshals onto the
	// acceptor loop and is queued ahead of any request, since accepting
	// only begins below.
	for uri, h := range s.handlers {
		svc.RegisterHandler(uri, s.bind(loop, h))
	}
	svc.RegisterDefaultHandler(s.bind(loop, s.defaultHandler))
	svc.Serve()
	s.acceptors = append(s.acceptors, &acceptor{loop: loop, svc: svc, port: port})
	s.metrics.AcceptorsRunning.Inc()
	s.logger.Debug("http server listening", zap.Int("port", port))
	return nil
}

// Stop requests shutdown of every acceptor loop (each cascades into its
// service) and of the worker pool. With wait set it polls until everything
// reports stopped before returning.
func (s *Server) Stop(wait bool) {
	for _, a := range s.acceptors {
		a.loop.Stop()
	}
	s.pool.Stop()
	s.metrics.AcceptorsRunning.Set(0)
	if !wait {
		return
	}
	for !s.IsStopped() {
		time.Sleep(pollInterval)
	}
}

// Pause asks every acceptor's service, via its own loop, to stop taking on
// new work. Fire-and-forget: it does not wait for the pause to take effect.
func (s *Server) Pause() {
	for _, a := range s.acceptors {
		svc := a.svc
		a.loop.RunInLoop(func() { svc.Pause() })
	}
}

// Resume undoes Pause, with the same fire-and-forget semantics.
func (s *Server) Resume() {
	for _, a := range s.acceptors {
		svc := a.svc
		a.loop.RunInLoop(func() { svc.Resume() })
	}
}

// IsRunning reports whether the worker pool is running, at least one
// acceptor exists, and every acceptor loop is running. It is false while
// the acceptor list is empty even if a start is in progress.
func (s *Server) IsRunning() bool {
	if len(s.acceptors) == 0 {
		return false
	}
	if !s.pool.IsRunning() {
		return false
	}
	for _, a := range s.acceptors {
		if !a.loop.IsRunning() {
			return false
		}
	}
	return true
}

// IsStopped reports whether the worker pool and every acceptor loop have
// stopped. Meaningful only after a successful Start; querying it before
// any acceptor exists is a caller sequencing bug.
func (s *Server) IsStopped() bool {
	if !s.pool.IsStopped() {
		return false
	}
	for _, a := range s.acceptors {
		if !a.loop.IsStopped() {
			return false
		}
	}
	return true
}

// ServiceAt returns the service of the index-th acceptor, in Start order,
// or nil when out of range.
func (s *Server) ServiceAt(index int) *service.Service {
	if index < 0 || index >= len(s.acceptors) {
		return nil
	}
	return s.acceptors[index].svc
}

// Metrics exposes the server's Prometheus instrumentation.
func (s *Server) Metrics() *control.ServerMetrics { return s.metrics }
