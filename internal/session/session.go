// Package session runs the per-connection control loop.
//
// A session is ACTIVE until its first terminating event and TERMINATED after;
// there is no way back. Every message that is processed leaves exactly two
// records, receive_from_client then reply_to_client, carrying the same
// payload. A message that ends the session (stop sentinel, oversized) leaves
// none. The trace is therefore the same whichever Source feeds the loop.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/internal/sink"
	"github.com/hongjun500/echo-dtm/internal/transport"
	"github.com/hongjun500/echo-dtm/pkg/logger"
	"go.uber.org/zap"
)

// Reason 会话结束原因
type Reason string

const (
	ReasonStop      Reason = "stop"
	ReasonOversized Reason = "oversized"
	ReasonEOF       Reason = "eof"
	ReasonError     Reason = "error"
	ReasonCanceled  Reason = "canceled"
	ReasonPanic     Reason = "panic"
)

// Result describes how a session ended.
type Result struct {
	Reason    Reason
	Processed int   // messages echoed
	Err       error // set for ReasonError and ReasonPanic
}

type Session struct {
	ID     string
	Local  uint64
	Remote uint64
	Mode   transport.Mode
	Source transport.Source
	Sink   sink.Sink
	Limit  int // payload limit in bytes; <= 0 means protocol.MaxLength

	log *zap.SugaredLogger
}

func New(local, remote uint64, mode transport.Mode, src transport.Source, s sink.Sink) *Session {
	return &Session{
		ID:     uuid.New().String(),
		Local:  local,
		Remote: remote,
		Mode:   mode,
		Source: src,
		Sink:   s,
		Limit:  protocol.MaxLength,
	}
}

// Run drives the session to termination. It never panics and never returns an
// error to its caller: everything that goes wrong is logged and ends this
// session only. The source is closed on return.
func (s *Session) Run(ctx context.Context) (res Result) {
	if s.Sink == nil {
		s.Sink = sink.Nop
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.log = logger.L().Sugar().With("session", s.ID, "local", s.Local, "remote", s.Remote, "mode", s.Mode)
	observe.SessionStarted(string(s.Mode))
	s.log.Infow("session_start")

	defer func() {
		if r := recover(); r != nil {
			res.Reason = ReasonPanic
			res.Err = fmt.Errorf("session panic: %v", r)
		}
		if s.Source != nil {
			if err := s.Source.Close(); err != nil {
				s.log.Debugw("session_close_error", "err", err)
			}
		}
		s.finish(res)
	}()

	if s.Source == nil {
		return Result{Reason: ReasonError, Err: errors.New("session has no source")}
	}

	for {
		reason, err := s.step(ctx)
		if reason != "" {
			res.Reason, res.Err = reason, err
			return res
		}
		res.Processed++
	}
}

// step handles one inbound message. A non-empty reason means TERMINATED.
func (s *Session) step(ctx context.Context) (Reason, error) {
	m, err := s.Source.Next(ctx)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrEndOfSession):
			return ReasonEOF, nil
		case errors.Is(err, transport.ErrFrameTooLarge):
			// the source refused a message over its own cap before reading it whole
			observe.IncDropped(string(ReasonOversized))
			s.log.Debugw("session_oversized", "err", err, "limit", s.limit())
			return ReasonOversized, nil
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return ReasonCanceled, nil
		default:
			return ReasonError, err
		}
	}
	if m.IsStop() {
		observe.IncDropped(string(ReasonStop))
		return ReasonStop, nil
	}
	if m.Oversized(s.Limit) {
		observe.IncDropped(string(ReasonOversized))
		s.log.Debugw("session_oversized", "len", len(m.JSON), "limit", s.limit())
		return ReasonOversized, nil
	}

	s.Sink.Record(action.Receive(s.Local, s.Remote, m.JSON))
	if err := s.Source.Reply(m); err != nil {
		return ReasonError, err
	}
	s.Sink.Record(action.Reply(s.Local, s.Remote, m.JSON))
	observe.IncEchoed()
	return "", nil
}

func (s *Session) limit() int {
	if s.Limit <= 0 {
		return protocol.MaxLength
	}
	return s.Limit
}

func (s *Session) finish(res Result) {
	observe.SessionEnded(string(res.Reason))
	switch res.Reason {
	case ReasonError, ReasonPanic:
		s.log.Warnw("session_end", "reason", res.Reason, "processed", res.Processed, "err", res.Err)
	default:
		s.log.Infow("session_end", "reason", res.Reason, "processed", res.Processed)
	}
}
