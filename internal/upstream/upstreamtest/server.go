// Package upstreamtest provides a scripted stand-in for the realtime API.
package upstreamtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"
)

// HandshakeLen is the number of client events the server reads before
// running its script.
const HandshakeLen = 4

// Script runs after the handshake has been read. When it returns the server
// keeps reading until the peer goes away.
type Script func(ctx context.Context, conn *websocket.Conn)

// Server is a realtime endpoint backed by httptest.
type Server struct {
	*httptest.Server
	WSURL string

	script       Script
	rejectStatus int
	rejectFirst  int32
	stall        bool

	ctx       context.Context
	cancel    context.CancelFunc
	dials     atomic.Int32
	mu        sync.Mutex
	received  []string
	headers   []http.Header
	handshake chan struct{}
	once      sync.Once
}

// Option configures a Server.
type Option func(*Server)

// Stall accepts upgrades and then never reads, so client writes eventually
// block once the socket buffers fill.
func Stall() Option {
	return func(s *Server) { s.stall = true }
}

// Reject answers the first n upgrade requests with status instead of
// accepting them. n < 0 rejects every request.
func Reject(status, n int) Option {
	return func(s *Server) {
		s.rejectStatus = status
		s.rejectFirst = int32(n)
	}
}

// NewServer starts a server that is shut down with the test.
func NewServer(t testing.TB, script Script, opts ...Option) *Server {
	t.Helper()
	s := &Server{script: script, handshake: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	s.WSURL = "ws" + strings.TrimPrefix(s.Server.URL, "http")
	t.Cleanup(func() {
		s.cancel()
		s.Server.Close()
	})
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	n := s.dials.Add(1)
	if s.rejectStatus != 0 && (s.rejectFirst < 0 || n <= s.rejectFirst) {
		http.Error(w, http.StatusText(s.rejectStatus), s.rejectStatus)
		return
	}

	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.CloseNow() }()
	if s.stall {
		<-s.ctx.Done()
		return
	}
	conn.SetReadLimit(1 << 24)

	for i := 0; i < HandshakeLen; i++ {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, string(data))
		s.mu.Unlock()
	}
	s.once.Do(func() { close(s.handshake) })

	if s.script != nil {
		s.script(s.ctx, conn)
	}
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// Dials returns the number of upgrade requests seen, rejected ones included.
func (s *Server) Dials() int { return int(s.dials.Load()) }

// Received returns every client event read so far, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// LastHeaders returns the headers of the most recent accepted upgrade.
func (s *Server) LastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.headers) == 0 {
		return nil
	}
	return s.headers[len(s.headers)-1]
}

// HandshakeDone is closed once the first connection has sent its handshake.
func (s *Server) HandshakeDone() <-chan struct{} { return s.handshake }

// Events writes each event as a text frame.
func Events(events ...string) Script {
	return func(ctx context.Context, conn *websocket.Conn) {
		for _, ev := range events {
			if err := conn.Write(ctx, websocket.MessageText, []byte(ev)); err != nil {
				return
			}
		}
	}
}

// EventsThenClose writes the events and then closes with a normal closure.
func EventsThenClose(events ...string) Script {
	return func(ctx context.Context, conn *websocket.Conn) {
		Events(events...)(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// EventsThenDrop writes the events and then drops the TCP connection without
// a close frame.
func EventsThenDrop(events ...string) Script {
	return func(ctx context.Context, conn *websocket.Conn) {
		Events(events...)(ctx, conn)
		_ = conn.CloseNow()
	}
}
