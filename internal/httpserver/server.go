package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// ShutdownTimeout bounds how long a graceful shutdown may take.
var ShutdownTimeout = 5 * time.Second

// Server wraps the http.Server with sensible defaults. It binds before it
// serves so callers can learn the real address when asking for port 0.
type Server struct {
	inner *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New constructs a server for host:port. An empty host binds loopback only.
func New(host string, port int, handler http.Handler) *Server {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Server{
		inner: &http.Server{
			Addr:              net.JoinHostPort(host, fmt.Sprint(port)),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}
}

// Listen binds the address without serving yet.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.inner.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.inner.Addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.inner.Addr
}

// Start begins serving HTTP traffic. It returns nil after Shutdown.
func (s *Server) Start() error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if err := s.inner.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully terminates the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
