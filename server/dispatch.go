// File: server/dispatch.go
// Dispatcher: selects the loop that will run a request's handler and
// performs the cross-thread handoff.
// License: Apache-2.0

package server

import (
	"encoding/binary"
	"net/http"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/loopforge/evhttp/api"
	"github.com/loopforge/evhttp/service"
)

// bind adapts a user handler into the service callback signature, routing
// every invocation through the dispatcher. The origin loop is the acceptor
// loop the request was parsed on.
func (s *Server) bind(origin api.Loop, h service.HandlerFunc) service.HandlerFunc {
	return func(ctx *service.Context, respond service.ResponseFunc) {
		s.dispatch(origin, ctx, respond, h)
	}
}

// dispatch enqueues the handler on the selected loop and returns
// immediately; the handler body runs later on that loop's own thread,
// FIFO relative to other tasks on the same loop. The handler owns calling
// respond exactly once — a handler that never does leaks the request.
func (s *Server) dispatch(origin api.Loop, ctx *service.Context, respond service.ResponseFunc, h service.HandlerFunc) {
	if h == nil {
		// No handler registered for this slot (empty default): answer
		// 404 from the acceptor loop rather than crossing threads.
		ctx.Status = http.StatusNotFound
		respond(nil)
		return
	}
	target := s.selectLoop(origin, ctx)
	s.metrics.Dispatched.WithLabelValues(target.Name()).Inc()
	s.logger.Debug("dispatch request",
		zap.String("request_id", ctx.ID.String()),
		zap.String("uri", ctx.URI),
		zap.String("loop", target.Name()))
	target.RunInLoop(func() { h(ctx, respond) })
}

// selectLoop picks the target loop under the configured policy. With an
// empty pool the originating loop processes its own requests. Round-robin
// rotates over the pool; source-hash keys on the raw IPv4 address when
// available, otherwise on a hash of the textual remote IP, so a given
// source address is sticky to one worker loop.
func (s *Server) selectLoop(origin api.Loop, ctx *service.Context) api.Loop {
	if s.pool.LoopCount() == 0 {
		return origin
	}
	if s.policy == RoundRobin {
		return s.pool.NextLoop()
	}
	if ip4, ok := ctx.RemoteIPv4(); ok {
		return s.pool.NextLoopByHash(uint64(binary.BigEndian.Uint32(ip4)))
	}
	return s.pool.NextLoopByHash(xxhash.Sum64String(ctx.RemoteIP))
}
