// Package server owns the TCP listener: it accepts connections and spawns
// one dispatch.Dispatcher per connection. It knows nothing about the
// protocol itself — that lives entirely in internal/dispatch.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/dispatch"
	"github.com/raphaottoni/camps-dct/internal/wire"
)

// Server owns the listener's lifecycle. Stop is idempotent and is the
// callback dispatch.Coordinator.SetStopListening is wired to.
type Server struct {
	coordinator *dispatch.Coordinator
	logger      *zap.Logger

	mu       sync.Mutex
	listener net.Listener

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns a Server ready to Listen.
func New(coordinator *dispatch.Coordinator, logger *zap.Logger) *Server {
	return &Server{coordinator: coordinator, logger: logger.Named("server")}
}

// ListenAndServe binds addr, then accepts connections until Stop is called
// or the context is cancelled, dispatching each to its own goroutine. It
// returns once the accept loop has exited and every in-flight connection
// goroutine has been spawned (not necessarily finished — those drain on
// their own via the dispatcher's Serve loop and the coordinator's shutdown
// sequence).
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("listening", zap.String("addr", lis.Addr().String()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept error", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	channel := wire.NewChannel(conn)
	logger := s.logger.With(zap.String("remote_addr", conn.RemoteAddr().String()))
	d := dispatch.NewDispatcher(s.coordinator, channel, logger)
	d.Serve(ctx)
}

// Addr returns the bound listener's address, or nil before ListenAndServe
// has bound one. Intended for tests that bind an ephemeral port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, unblocking Accept with net.ErrClosed. Safe to
// call more than once or concurrently with ListenAndServe's own shutdown
// goroutine — the same idempotency requirement applies here as to the
// admin SHUTDOWN handler this backs.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		lis := s.listener
		s.mu.Unlock()
		if lis != nil {
			if err := lis.Close(); err != nil {
				s.logger.Warn("error closing listener", zap.Error(err))
			}
		}
	})
}
