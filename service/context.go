// File: service/context.go
// License: Apache-2.0

package service

import (
	"net"
	"net/http"

	"github.com/google/uuid"
)

// Context carries one in-flight HTTP request from accept until the response
// completion callback finishes. It is produced on the acceptor thread and
// handed to exactly one worker loop; the two sides never mutate it
// concurrently — the dispatch task queue is the only handoff point.
type Context struct {
	// ID tags the request in logs.
	ID uuid.UUID

	// Req is the parsed request. The handler owns Req.Body until it
	// invokes the completion callback.
	Req *http.Request

	// RemoteAddr is the originating connection's peer address.
	RemoteAddr net.Addr

	// RemoteIP is the textual peer IP without port, used as the hash
	// fallback when no raw IPv4 address is available.
	RemoteIP string

	// URI is the exact-match handler lookup key (the request path).
	URI string

	// Status and Header shape the response; the handler may set them
	// before invoking the completion callback.
	Status int
	Header http.Header
}

func newContext(req *http.Request, remote net.Addr) *Context {
	ip := ""
	if remote != nil {
		if host, _, err := net.SplitHostPort(remote.String()); err == nil {
			ip = host
		} else {
			ip = remote.String()
		}
	}
	return &Context{
		ID:         uuid.New(),
		Req:        req,
		RemoteAddr: remote,
		RemoteIP:   ip,
		URI:        req.URL.Path,
		Status:     http.StatusOK,
		Header:     make(http.Header),
	}
}

// RemoteIPv4 returns the peer's raw 4-byte address when the connection is
// IPv4, as the affinity hash key source.
func (c *Context) RemoteIPv4() (net.IP, bool) {
	addr, ok := c.RemoteAddr.(*net.TCPAddr)
	if !ok {
		return nil, false
	}
	ip4 := addr.IP.To4()
	return ip4, ip4 != nil
}
