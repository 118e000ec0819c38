// Package server accepts connections and spawns one detached session per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/internal/registry"
	"github.com/hongjun500/echo-dtm/internal/session"
	"github.com/hongjun500/echo-dtm/internal/sink"
	"github.com/hongjun500/echo-dtm/internal/transport"
	"github.com/hongjun500/echo-dtm/pkg/logger"
)

type Server struct {
	Local    uint64
	Mode     transport.Mode
	Listener transport.Listener
	Registry *registry.Registry
	Sink     sink.Sink
	Limit    int

	// OnSessionEnd, when set, is called from the session goroutine after it terminates.
	OnSessionEnd func(remote uint64, res session.Result)

	// sessions is only used by Wait; Run itself never joins a session.
	sessions sync.WaitGroup
}

// Run records SERVER_START and serves until accept fails. An accept error is
// returned wrapped and is meant to be fatal; canceling ctx closes the
// listener and returns ctx.Err(). Running sessions are not stopped.
func (s *Server) Run(ctx context.Context) error {
	if s.Listener == nil {
		return errors.New("server: no listener")
	}
	if s.Registry == nil {
		s.Registry = registry.New()
	}
	if s.Sink == nil {
		s.Sink = sink.Nop
	}
	if s.Mode == "" {
		s.Mode = transport.Live
	}
	if s.Limit <= 0 {
		s.Limit = protocol.MaxLength
	}

	s.Sink.Record(action.Start(s.Local))
	logger.L().Sugar().Infow("server_start", "local", s.Local, "mode", s.Mode,
		"transport", s.Listener.Name(), "addr", s.Listener.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Listener.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.serve(ctx, conn)
	}
}

// serve resolves the peer and starts its session without waiting for it.
func (s *Server) serve(ctx context.Context, conn transport.Conn) {
	log := logger.L().Sugar()
	remote, err := s.Registry.ResolveAddr(conn.RemoteAddr())
	if err != nil {
		log.Warnw("resolve_error", "addr", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}

	var src transport.Source
	switch s.Mode {
	case transport.Replay:
		q, release, err := s.Registry.Acquire(remote)
		if err != nil {
			log.Warnw("queue_acquire_error", "remote", remote, "err", err)
			_ = conn.Close()
			return
		}
		src = transport.NewQueueSource(q, release, conn)
	default:
		src = conn.Source()
	}

	sess := session.New(s.Local, remote, s.Mode, src, s.Sink)
	sess.Limit = s.Limit
	log.Debugw("session_spawn", "session", sess.ID, "remote", remote, "addr", conn.RemoteAddr().String())

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		res := sess.Run(ctx)
		if s.OnSessionEnd != nil {
			s.OnSessionEnd(remote, res)
		}
	}()
}

// Wait blocks until every session spawned so far has ended. Tests and
// graceful shutdown use it; the accept loop never does.
func (s *Server) Wait() { s.sessions.Wait() }
