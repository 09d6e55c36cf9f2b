// Package server owns the TCP listener and the accept loop. Everything
// protocol-related happens in the per-connection handlers; the server only
// accepts sockets and hands them off.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/linefeed/chatbroker/internal/v1/broker"
	"github.com/linefeed/chatbroker/internal/v1/logging"
)

// Server accepts chat connections and runs one handler goroutine per
// connection.
type Server struct {
	broker *broker.Broker
	ln     net.Listener

	mu       sync.Mutex
	shutdown bool
	handlers sync.WaitGroup
}

// Listen binds an IPv4 listener on the wildcard address and the given port.
// Port 0 picks an ephemeral port, which tests rely on.
func Listen(port int, b *broker.Broker) (*Server, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind port %d: %w", port, err)
	}
	return &Server{broker: b, ln: ln}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until the listener is closed by Shutdown. A
// failed accept never takes down established sessions.
func (s *Server) Serve(ctx context.Context) error {
	logging.Info(ctx, "Chat server listening", zap.String("addr", s.ln.Addr().String()))

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isShuttingDown() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			broker.NewHandler(s.broker, conn).Run(ctx)
		}()
	}
}

// Shutdown stops accepting, severs every session through the broker, and
// waits for handler goroutines to drain. A cancelled ctx abandons the wait.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Warn(ctx, "Listener close failed", zap.Error(err))
	}

	if err := s.broker.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
