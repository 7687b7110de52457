// Package server implements grnvsd, the reference peer: it accepts control
// connections, calls clients back on their advertised data port, and runs
// the server half of the transfer dialogue.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/danmuck/grnvsctl/internal/logging"
	"github.com/danmuck/grnvsctl/internal/observability"
)

// Service owns the listener and the set of live control connections.
type Service struct {
	cfg Config
	log zerolog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	sessionCount atomic.Int64
}

func NewService(cfg Config) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:   cfg,
		log:   logging.New("grnvsd"),
		conns: make(map[net.Conn]struct{}),
	}, nil
}

// Run serves until SIGINT or SIGTERM. When MetricsAddr is set the metrics
// endpoint runs alongside and a failure there brings the daemon down.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp6", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	metricsErr := make(chan error, 1)
	if s.cfg.MetricsAddr != "" {
		go func() {
			metricsErr <- observability.ServeMetrics(ctx, s.cfg.MetricsAddr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-metricsErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve accepts sessions on ln until ctx is cancelled. The listener closes
// on return.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleSession(ctx, conn)
	}
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
