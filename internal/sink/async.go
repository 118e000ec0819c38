package sink

import (
	"sync"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"go.uber.org/atomic"
)

// Async decouples callers from a slow sink. Records are handed to a single
// goroutine over a buffered channel, so order is kept; when the buffer is
// full the record is dropped and counted instead of blocking the caller.
type Async struct {
	name    string
	next    Sink
	ch      chan action.Action
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

func NewAsync(name string, next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &Async{
		name: name,
		next: Safe(name, next),
		ch:   make(chan action.Action, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Async) run() {
	defer close(s.done)
	for a := range s.ch {
		s.next.Record(a)
	}
}

func (s *Async) Record(a action.Action) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop("closed")
		return
	}
	select {
	case s.ch <- a:
	default:
		s.drop("full")
	}
}

func (s *Async) drop(reason string) {
	s.dropped.Inc()
	observe.IncSinkDropped(s.name, reason)
}

// Dropped 因缓冲区满或已关闭而丢弃的记录数
func (s *Async) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting records and waits until the buffered ones are delivered.
func (s *Async) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}
