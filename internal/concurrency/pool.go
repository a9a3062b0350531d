// File: internal/concurrency/pool.go
// Worker loop pool: fixed set of event loops with rotation and hash
// selection. Selection is safe under concurrent use from multiple
// acceptor threads.
// License: Apache-2.0

package concurrency

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loopforge/evhttp/api"
)

// Pool owns a fixed set of worker loops. A size of zero is legal and puts
// the server into in-line processing mode: selection primitives return nil
// and callers fall back to the originating loop.
type Pool struct {
	loops []*EventLoop

	next uint64 // rotation counter, atomic

	started  int32
	stopping int32
}

// NewPool creates size stopped worker loops. Negative size is treated as zero.
func NewPool(size int, opts ...LoopOption) *Pool {
	if size < 0 {
		size = 0
	}
	p := &Pool{loops: make([]*EventLoop, size)}
	for i := range p.loops {
		l := NewEventLoop(opts...)
		l.SetName(fmt.Sprintf("http-worker-%d", i))
		p.loops[i] = l
	}
	return p
}

// LoopCount returns the configured number of worker loops.
func (p *Pool) LoopCount() int { return len(p.loops) }

// NextLoop returns the next worker loop in rotation.
func (p *Pool) NextLoop() api.Loop {
	if len(p.loops) == 0 {
		return nil
	}
	n := atomic.AddUint64(&p.next, 1) - 1
	return p.loops[n%uint64(len(p.loops))]
}

// NextLoopByHash returns the worker loop at key mod pool size. Equal keys
// always select the same loop for a fixed pool size.
func (p *Pool) NextLoopByHash(key uint64) api.Loop {
	if len(p.loops) == 0 {
		return nil
	}
	return p.loops[key%uint64(len(p.loops))]
}

// Start launches every worker loop. With blocking set it returns only once
// all loops report running, polling at micro scale.
func (p *Pool) Start(blocking bool) error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return ErrPoolStarted
	}
	for _, l := range p.loops {
		if err := l.Start(blocking, nil, nil); err != nil {
			return err
		}
	}
	if blocking {
		for !p.IsRunning() {
			time.Sleep(pollInterval)
		}
	}
	return nil
}

// Stop requests shutdown of every worker loop without waiting.
func (p *Pool) Stop() {
	atomic.StoreInt32(&p.stopping, 1)
	for _, l := range p.loops {
		l.Stop()
	}
}

// IsRunning reports whether the pool started, was not stopped, and every
// worker loop is running. A started zero-size pool counts as running.
func (p *Pool) IsRunning() bool {
	if atomic.LoadInt32(&p.started) == 0 || atomic.LoadInt32(&p.stopping) == 1 {
		return false
	}
	for _, l := range p.loops {
		if !l.IsRunning() {
			return false
		}
	}
	return true
}

// IsStopped reports whether Stop was requested and every worker loop has
// exited. A zero-size pool is stopped as soon as Stop is called.
func (p *Pool) IsStopped() bool {
	if atomic.LoadInt32(&p.stopping) == 0 {
		return false
	}
	for _, l := range p.loops {
		if !l.IsStopped() {
			return false
		}
	}
	return true
}
