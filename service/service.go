// File: service/service.go
// Package service binds one listening port to one event loop: it accepts
// connections, parses HTTP/1.x requests, resolves the handler on the loop
// thread and serializes responses back onto the same loop.
// License: Apache-2.0

package service

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/loopforge/evhttp/api"
)

// pausePoll is how often a paused accept or read path rechecks the flag.
const pausePoll = time.Millisecond

// ResponseFunc sends the HTTP response for one request. It must be invoked
// exactly once and may be called from any goroutine; invoking it hops back
// to the service's own loop, which owns all writes on the connection.
type ResponseFunc func(body []byte)

// HandlerFunc processes a request and must eventually call respond. A
// handler that never responds leaks the request and its connection slot;
// that contract is the caller's, not enforced here.
type HandlerFunc func(ctx *Context, respond ResponseFunc)

// Service is only ever touched from its own loop's thread once serving;
// registration calls marshal themselves onto that thread.
type Service struct {
	loop   api.Loop
	logger *zap.Logger

	ln   net.Listener
	port int

	// loop-confined route table; written via RunInLoop only.
	routes   map[string]HandlerFunc
	defaultH HandlerFunc

	paused  int32
	closed  int32
	closeCh chan struct{}

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	wg sync.WaitGroup
}

// New binds a service to the loop that will own it.
func New(loop api.Loop, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		loop:    loop,
		logger:  logger,
		routes:  make(map[string]HandlerFunc),
		closeCh: make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Loop returns the loop this service is bound to.
func (s *Service) Loop() api.Loop { return s.loop }

// Port returns the bound port (resolved after Listen; with port 0 the
// kernel-assigned port is reported).
func (s *Service) Port() int {
	if s.ln != nil {
		if ta, ok := s.ln.Addr().(*net.TCPAddr); ok {
			return ta.Port
		}
	}
	return s.port
}

// Listen binds the TCP listener. It does not begin accepting; call Serve
// once handler registration has been queued on the loop, so no lookup can
// observe a half-built route table.
func (s *Service) Listen(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("listen :%d: %w", port, err)
	}
	s.ln = ln
	s.port = port
	return nil
}

// RegisterHandler maps uri to h, exact match only. The write marshals onto
// the service loop so the table stays loop-confined.
func (s *Service) RegisterHandler(uri string, h HandlerFunc) {
	s.loop.RunInLoop(func() { s.routes[uri] = h })
}

// RegisterDefaultHandler stores the fallback for unmatched URIs.
func (s *Service) RegisterDefaultHandler(h HandlerFunc) {
	s.loop.RunInLoop(func() { s.defaultH = h })
}

// Serve starts the accept goroutine.
func (s *Service) Serve() {
	s.wg.Add(1)
	go s.acceptLoop()
}

// Pause stops the service from taking on new work: paused connections stall
// before parsing their next request and the acceptor stalls new peers.
// In-flight requests complete normally.
func (s *Service) Pause() { atomic.StoreInt32(&s.paused, 1) }

// Resume undoes Pause.
func (s *Service) Resume() { atomic.StoreInt32(&s.paused, 0) }

func (s *Service) isPaused() bool { return atomic.LoadInt32(&s.paused) == 1 }

// Stop closes the listener and every tracked connection and waits for the
// per-connection goroutines to finish. Idempotent. It runs either on the
// owning loop's shutdown hook or directly after a bind failure.
func (s *Service) Stop() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	close(s.closeCh)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
}

func (s *Service) isClosed() bool { return atomic.LoadInt32(&s.closed) == 1 }

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	for {
		for s.isPaused() && !s.isClosed() {
			time.Sleep(pausePoll)
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.isClosed() {
				s.logger.Warn("accept failed", zap.Int("port", s.Port()), zap.Error(err))
			}
			return
		}
		s.connMu.Lock()
		if s.isClosed() {
			s.connMu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn parses requests off one connection and hands each to the loop
// for routing. Responses are written by loop tasks; this goroutine only
// reads, so the two directions never race on the socket.
func (s *Service) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		_ = conn.Close()
	}()
	br := bufio.NewReader(conn)
	for {
		for s.isPaused() && !s.isClosed() {
			time.Sleep(pausePoll)
		}
		if s.isClosed() {
			return
		}
		req, err := http.ReadRequest(br)
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				s.logger.Debug("read request", zap.Error(err))
			}
			return
		}
		ctx := newContext(req, conn.RemoteAddr())
		done := make(chan struct{})
		respond := s.completion(ctx, conn, done)
		s.loop.RunInLoop(func() { s.route(ctx, respond) })

		// HTTP/1.x is serial per connection: hold the read side until
		// the response goes out or the service shuts down.
		select {
		case <-done:
		case <-s.closeCh:
			return
		}
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()
		if req.Close {
			return
		}
	}
}

// route resolves the handler on the loop thread: exact URI match first,
// then the default. With neither present the service answers 404 itself.
func (s *Service) route(ctx *Context, respond ResponseFunc) {
	h, ok := s.routes[ctx.URI]
	if !ok {
		h = s.defaultH
	}
	if h == nil {
		ctx.Status = http.StatusNotFound
		respond(nil)
		return
	}
	h(ctx, respond)
}

// completion builds the single-shot response callback for one request.
func (s *Service) completion(ctx *Context, conn net.Conn, done chan struct{}) ResponseFunc {
	var once sync.Once
	return func(body []byte) {
		once.Do(func() {
			s.loop.RunInLoop(func() {
				defer close(done)
				if err := writeResponse(conn, ctx, body); err != nil {
					s.logger.Debug("write response",
						zap.String("request_id", ctx.ID.String()),
						zap.Error(err))
				}
			})
		})
	}
}

func writeResponse(conn net.Conn, ctx *Context, body []byte) error {
	resp := &http.Response{
		StatusCode:    ctx.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        ctx.Header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       ctx.Req,
		Close:         ctx.Req.Close,
	}
	return resp.Write(conn)
}
