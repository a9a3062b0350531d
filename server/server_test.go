// File: server/server_test.go
// License: Apache-2.0

package server_test

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/loopforge/evhttp/control"
	"github.com/loopforge/evhttp/server"
	"github.com/loopforge/evhttp/service"
)

// goid parses the current goroutine id from the stack header. Test-only;
// used to prove which loop a handler ran on.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// freePort grabs a kernel-assigned port and releases it for the server to
// rebind.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func get(t *testing.T, port int, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func echoHandler(body string) service.HandlerFunc {
	return func(ctx *service.Context, respond service.ResponseFunc) {
		respond([]byte(body))
	}
}

func TestStartStopLifecycle(t *testing.T) {
	srv := server.New(2, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterHandler("/hello", echoHandler("world"))

	port := freePort(t)
	require.NoError(t, srv.Start(port))
	assert.True(t, srv.IsRunning())

	resp, body := get(t, port, "/hello")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "world", body)

	srv.Stop(true)
	assert.True(t, srv.IsStopped())
	assert.False(t, srv.IsRunning())
}

func TestStartWithoutPorts(t *testing.T) {
	srv := server.New(1)
	assert.ErrorIs(t, srv.Start(), server.ErrNoPorts)
}

func TestMultiPortStart(t *testing.T) {
	srv := server.New(2, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterHandler("/hello", echoHandler("hi"))

	p1, p2 := freePort(t), freePort(t)
	require.NoError(t, srv.Start(p1, p2))
	defer srv.Stop(true)

	assert.True(t, srv.IsRunning())
	for _, p := range []int{p1, p2} {
		resp, body := get(t, p, "/hello")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "hi", body)
	}
	assert.NotNil(t, srv.ServiceAt(0))
	assert.NotNil(t, srv.ServiceAt(1))
	assert.Nil(t, srv.ServiceAt(2))
	assert.Nil(t, srv.ServiceAt(-1))
}

func TestBindConflictLeavesEarlierAcceptors(t *testing.T) {
	srv := server.New(2, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterHandler("/hello", echoHandler("still here"))

	port := freePort(t)
	// The duplicate port fails at position 1; position 0 stays up and
	// serving, with no rollback.
	err := srv.Start(port, port)
	require.Error(t, err)

	assert.True(t, srv.IsRunning())
	assert.NotNil(t, srv.ServiceAt(0))
	assert.Nil(t, srv.ServiceAt(1))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.Metrics().BindFailures))

	_, body := get(t, port, "/hello")
	assert.Equal(t, "still here", body)

	srv.Stop(true)
	assert.True(t, srv.IsStopped())
}

func TestRegisterWhileRunningPanics(t *testing.T) {
	srv := server.New(0, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterDefaultHandler(echoHandler("ok"))
	require.NoError(t, srv.Start(freePort(t)))
	defer srv.Stop(true)

	assert.Panics(t, func() { srv.RegisterHandler("/late", echoHandler("no")) })
	assert.Panics(t, func() { srv.RegisterDefaultHandler(echoHandler("no")) })
}

func TestDefaultHandlerFallback(t *testing.T) {
	srv := server.New(1, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterHandler("/exact", echoHandler("exact"))
	srv.RegisterDefaultHandler(func(ctx *service.Context, respond service.ResponseFunc) {
		ctx.Status = http.StatusNotFound
		respond([]byte("default:" + ctx.URI))
	})

	port := freePort(t)
	require.NoError(t, srv.Start(port))
	defer srv.Stop(true)

	resp, body := get(t, port, "/exact")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "exact", body)

	resp, body = get(t, port, "/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "default:/missing", body)
}

func TestEmptyDefaultIsNotASystemFault(t *testing.T) {
	srv := server.New(1, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterHandler("/exact", echoHandler("exact"))

	port := freePort(t)
	require.NoError(t, srv.Start(port))
	defer srv.Stop(true)

	resp, _ := get(t, port, "/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatchRunsHandlerOnWorkerLoop(t *testing.T) {
	srv := server.New(1, server.WithLogger(zaptest.NewLogger(t)))
	handlerGoid := make(chan uint64, 1)
	srv.RegisterHandler("/where", func(ctx *service.Context, respond service.ResponseFunc) {
		handlerGoid <- goid()
		respond(nil)
	})

	port := freePort(t)
	require.NoError(t, srv.Start(port))
	defer srv.Stop(true)

	acceptorGoid := make(chan uint64, 1)
	srv.ServiceAt(0).Loop().RunInLoop(func() { acceptorGoid <- goid() })

	get(t, port, "/where")

	hg := <-handlerGoid
	ag := <-acceptorGoid
	assert.NotEqual(t, ag, hg, "handler must not run on the acceptor loop")
	assert.NotEqual(t, goid(), hg, "handler must not run on the caller goroutine")
}

func TestZeroWorkersProcessInline(t *testing.T) {
	srv := server.New(0, server.WithLogger(zaptest.NewLogger(t)))
	handlerGoid := make(chan uint64, 1)
	srv.RegisterHandler("/where", func(ctx *service.Context, respond service.ResponseFunc) {
		handlerGoid <- goid()
		respond(nil)
	})

	port := freePort(t)
	require.NoError(t, srv.Start(port))
	defer srv.Stop(true)

	acceptorGoid := make(chan uint64, 1)
	srv.ServiceAt(0).Loop().RunInLoop(func() { acceptorGoid <- goid() })

	get(t, port, "/where")
	assert.Equal(t, <-acceptorGoid, <-handlerGoid,
		"with no workers the acceptor loop processes its own requests")
}

func TestRoundRobinDistributionAcrossAcceptors(t *testing.T) {
	srv := server.New(4,
		server.WithPolicy(server.RoundRobin),
		server.WithLogger(zaptest.NewLogger(t)),
	)
	srv.RegisterHandler("/work", echoHandler("done"))

	p1, p2 := freePort(t), freePort(t)
	require.NoError(t, srv.Start(p1, p2))
	defer srv.Stop(true)

	// Eight sequential requests, alternating originating acceptor.
	for i := 0; i < 8; i++ {
		port := p1
		if i%2 == 1 {
			port = p2
		}
		_, body := get(t, port, "/work")
		require.Equal(t, "done", body)
	}

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("http-worker-%d", i)
		count := testutil.ToFloat64(srv.Metrics().Dispatched.WithLabelValues(name))
		assert.Equal(t, float64(2), count, "loop %s", name)
	}
}

func TestPauseAndResume(t *testing.T) {
	srv := server.New(1, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterHandler("/ping", echoHandler("pong"))

	port := freePort(t)
	require.NoError(t, srv.Start(port))
	defer srv.Stop(true)

	srv.Pause()
	time.Sleep(100 * time.Millisecond) // pause is fire-and-forget

	client := &http.Client{Timeout: 300 * time.Millisecond}
	_, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
	assert.Error(t, err, "paused service must not answer")

	srv.Resume()
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNewFromConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Workers = 2
	cfg.Policy = control.PolicySourceHash
	srv, err := server.NewFromConfig(cfg, server.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NotNil(t, srv)

	cfg.Workers = -1
	_, err = server.NewFromConfig(cfg)
	assert.Error(t, err)
}

func TestBlockingStopWithManyAcceptors(t *testing.T) {
	srv := server.New(3, server.WithLogger(zaptest.NewLogger(t)))
	srv.RegisterDefaultHandler(echoHandler("ok"))

	ports := []int{freePort(t), freePort(t), freePort(t)}
	require.NoError(t, srv.Start(ports...))
	assert.True(t, srv.IsRunning())

	srv.Stop(true)
	assert.True(t, srv.IsStopped())
	assert.False(t, srv.IsRunning())
}
