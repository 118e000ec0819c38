// Package sink receives every action record the server emits.
//
// Record is fire-and-forget: implementations must not block the caller on
// failure and must not panic into it. Per-caller order is preserved; nothing
// is promised across callers.
package sink

import (
	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/pkg/logger"
	"go.uber.org/zap"
)

type Sink interface {
	Record(a action.Action)
}

// Func adapts a plain function to Sink.
type Func func(a action.Action)

func (f Func) Record(a action.Action) { f(a) }

// Nop discards everything.
var Nop Sink = Func(func(action.Action) {})

type multi []Sink

// Multi fans each record out to every sink, in argument order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Record delivers to each sink in turn; a panic in one is contained there
// and the remaining sinks still get the record.
func (m multi) Record(a action.Action) {
	for _, s := range m {
		recordSafe("multi", s, a)
	}
}

type safe struct {
	name string
	next Sink
}

// Safe contains panics raised by next so that a broken sink cannot take a session down.
func Safe(name string, next Sink) Sink { return &safe{name: name, next: next} }

func (s *safe) Record(a action.Action) { recordSafe(s.name, s.next, a) }

func recordSafe(name string, next Sink, a action.Action) {
	defer func() {
		if r := recover(); r != nil {
			observe.IncSinkDropped(name, "panic")
			logger.L().Sugar().Warnw("sink_panic", "sink", name, "kind", a.Kind, "panic", r)
		}
	}()
	next.Record(a)
}

type metered struct{ next Sink }

// Metered counts records per kind before passing them on.
func Metered(next Sink) Sink { return metered{next: next} }

func (m metered) Record(a action.Action) {
	observe.IncAction(string(a.Kind))
	m.next.Record(a)
}

// Log writes each record as a structured zap entry.
type Log struct{ l *zap.Logger }

func NewLog(l *zap.Logger) *Log {
	if l == nil {
		l = logger.Named("action")
	}
	return &Log{l: l}
}

func (s *Log) Record(a action.Action) {
	s.l.Info("action",
		zap.String("type", string(a.Kind)),
		zap.String("action_type", string(a.Direction())),
		zap.Uint64("local", a.Local),
		zap.Uint64("remote", a.Remote),
		zap.String("message", a.Payload),
	)
}
