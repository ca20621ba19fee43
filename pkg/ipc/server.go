package ipc

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"sync"
)

// ConnHandler runs one session over an accepted connection. It owns the
// connection until it returns.
type ConnHandler func(ctx context.Context, conn net.Conn) error

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Server listens on a unix socket and serves one connection at a time.
// A second editor connecting while a session is active waits in the
// listen backlog until the first one disconnects.
type Server struct {
	ln     net.Listener
	mu     sync.RWMutex
	closed bool
	logger Logger
}

// NewServer constructs an IPC server.
func NewServer(logger Logger) *Server {
	return &Server{logger: logger}
}

// Listen binds endpoint, removing a stale socket file first.
func (s *Server) Listen(endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	if err := CleanupSocket(endpoint); err != nil {
		return err
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections sequentially and runs handler on each until ctx
// is cancelled or Stop is called. A handler error is fatal and returned.
func (s *Server) Serve(ctx context.Context, handler ConnHandler) error {
	s.mu.RLock()
	ln := s.ln
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("server not listening")
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			s.logf("accept error: %v", err)
			continue
		}
		s.logf("client connected")
		err = handler(ctx, conn)
		conn.Close()
		if err != nil {
			return err
		}
		s.logf("client disconnected")
	}
}

// Stop shuts down the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// CleanupSocket removes a leftover socket file at path.
func CleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
