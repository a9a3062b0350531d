// File: internal/concurrency/eventloop.go
// Package concurrency implements the single-threaded event loop and the
// worker loop pool the HTTP server core is built on.
// License: Apache-2.0

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/loopforge/evhttp/api"
)

// pollInterval is the sleep used when spinning on a peer's running/stopped
// flag. The underlying goroutine-start signal is asynchronous, so blocking
// start and stop poll at micro scale instead of waiting on a notification.
const pollInterval = time.Microsecond

// EventLoop runs tasks on one dedicated goroutine locked to an OS thread.
// Tasks are executed strictly in submission order. The zero value is not
// usable; construct with NewEventLoop.
type EventLoop struct {
	name atomic.Value // string

	mu    sync.Mutex
	tasks *queue.Queue // of api.Task

	wake   chan struct{}
	stopCh chan struct{}

	started int32
	running int32
	stopped int32

	stopOnce sync.Once

	pinCPU int
}

// LoopOption tunes a loop at construction time.
type LoopOption func(*EventLoop)

// WithPinnedCPU pins the loop's OS thread to the given CPU (Linux only;
// a no-op elsewhere). Negative means no pinning.
func WithPinnedCPU(cpu int) LoopOption {
	return func(el *EventLoop) { el.pinCPU = cpu }
}

// NewEventLoop creates a stopped loop. Start must be called before tasks run;
// tasks submitted earlier are queued and execute once the loop starts.
func NewEventLoop(opts ...LoopOption) *EventLoop {
	el := &EventLoop{
		tasks:  queue.New(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		pinCPU: -1,
	}
	el.name.Store("eventloop")
	for _, opt := range opts {
		opt(el)
	}
	return el
}

// SetName labels the loop for logs and metrics. Set before Start.
func (el *EventLoop) SetName(name string) { el.name.Store(name) }

// Name returns the loop's label.
func (el *EventLoop) Name() string { return el.name.Load().(string) }

// Pending returns the number of queued tasks.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.tasks.Length()
}

// RunInLoop schedules task onto the loop's own thread. Safe from any
// goroutine; never blocks. When called from inside a loop task, the new
// task runs after the current one returns.
func (el *EventLoop) RunInLoop(task api.Task) {
	if task == nil {
		return
	}
	el.mu.Lock()
	el.tasks.Add(task)
	el.mu.Unlock()
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// Start launches the loop goroutine. afterStart runs on the loop thread
// before the running flag flips; beforeStop runs on the loop thread after
// the queue drains during shutdown. With blocking set, Start polls until
// the loop reports running.
func (el *EventLoop) Start(blocking bool, afterStart, beforeStop api.Task) error {
	if !atomic.CompareAndSwapInt32(&el.started, 0, 1) {
		return ErrLoopStarted
	}
	go el.run(afterStart, beforeStop)
	if blocking {
		for !el.IsRunning() {
			time.Sleep(pollInterval)
		}
	}
	return nil
}

// Stop requests shutdown. Queued tasks drain before the loop exits; tasks
// submitted after the drain are dropped. Stop does not wait — poll
// IsStopped for a synchronous guarantee.
func (el *EventLoop) Stop() {
	if atomic.LoadInt32(&el.started) == 0 {
		return
	}
	el.stopOnce.Do(func() { close(el.stopCh) })
}

// IsRunning reports whether the loop goroutine is processing tasks.
func (el *EventLoop) IsRunning() bool {
	return atomic.LoadInt32(&el.running) == 1
}

// IsStopped reports whether the loop goroutine has fully exited.
func (el *EventLoop) IsStopped() bool {
	return atomic.LoadInt32(&el.stopped) == 1
}

func (el *EventLoop) run(afterStart, beforeStop api.Task) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if el.pinCPU >= 0 {
		pinCurrentThread(el.pinCPU)
	}
	if afterStart != nil {
		afterStart()
	}
	atomic.StoreInt32(&el.running, 1)
	defer func() {
		atomic.StoreInt32(&el.running, 0)
		atomic.StoreInt32(&el.stopped, 1)
	}()
	for {
		select {
		case <-el.stopCh:
			el.drain()
			if beforeStop != nil {
				beforeStop()
			}
			return
		case <-el.wake:
			el.drain()
		}
	}
}

func (el *EventLoop) drain() {
	for {
		el.mu.Lock()
		if el.tasks.Length() == 0 {
			el.mu.Unlock()
			return
		}
		task := el.tasks.Remove().(api.Task)
		el.mu.Unlock()
		el.safeRun(task)
	}
}

// safeRun keeps a panicking task from killing the loop.
func (el *EventLoop) safeRun(task api.Task) {
	defer func() {
		_ = recover()
	}()
	task()
}
