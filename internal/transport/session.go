package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/internal/queue"
)

// Source is where a session pulls inbound messages from and pushes echoes to.
//
// Next blocks until a message is available. It returns ErrEndOfSession when
// the source ended normally (peer closed, queue closed); any other error is
// abnormal. Reply echoes m back; for sources without a wire it does nothing.
type Source interface {
	Next(ctx context.Context) (protocol.Message, error)
	Reply(m protocol.Message) error
	Close() error
}

// QueueSource feeds a session from its remote's replay queue. The
// connection it was opened for is kept open until Close but is never read.
type QueueSource struct {
	q         *queue.Queue
	release   func()
	conn      io.Closer
	closeOnce sync.Once
}

// NewQueueSource binds q. release and conn are optional and run on Close.
func NewQueueSource(q *queue.Queue, release func(), conn io.Closer) *QueueSource {
	return &QueueSource{q: q, release: release, conn: conn}
}

func (s *QueueSource) Next(ctx context.Context) (protocol.Message, error) {
	if s.q == nil {
		return protocol.Message{}, ErrEndOfSession
	}
	m, err := s.q.Pull(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return protocol.Message{}, ErrEndOfSession
	}
	return m, err
}

// Reply is a no-op: in replay mode the echo is only recorded.
func (s *QueueSource) Reply(protocol.Message) error { return nil }

func (s *QueueSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}
