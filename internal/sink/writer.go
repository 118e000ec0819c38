package sink

import (
	"bufio"
	"io"
	"sync"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/codec"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/pkg/logger"
)

// Writer appends one JSON envelope per line to w, producing a trace file that
// can be diffed between a live run and a replay run.
type Writer struct {
	mu    sync.Mutex
	w     *bufio.Writer
	c     io.Closer
	codec codec.Codec
}

// NewWriter takes ownership of w; it is closed by Close if it is an io.Closer.
func NewWriter(w io.Writer) *Writer {
	s := &Writer{w: bufio.NewWriter(w), codec: codec.JSONCodec{}}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *Writer) Record(a action.Action) {
	env := a.Envelope()
	s.mu.Lock()
	defer s.mu.Unlock()
	// JSONCodec terminates each envelope with a newline
	if err := s.codec.Encode(s.w, &env); err != nil {
		observe.IncSinkDropped("writer", "error")
		logger.L().Sugar().Warnw("trace_write_error", "kind", a.Kind, "err", err)
		return
	}
	if err := s.w.Flush(); err != nil {
		observe.IncSinkDropped("writer", "error")
		logger.L().Sugar().Warnw("trace_flush_error", "err", err)
	}
}

func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.c != nil {
		if cerr := s.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
