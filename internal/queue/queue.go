// Package queue provides the per-remote FIFO that feeds a replay session.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/hongjun500/echo-dtm/internal/protocol"
)

var ErrClosed = errors.New("queue closed")

// Queue is an unbounded blocking FIFO. Push is safe from any number of
// producers; Pull is meant for the one session that owns the queue.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.Message
	closed bool

	ready chan struct{} // 有新消息时的唤醒信号，容量为 1
	done  chan struct{}
}

func New() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends m. It never blocks.
func (q *Queue) Push(m protocol.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pull blocks until a message is available. After Close, buffered messages
// are still handed out and ErrClosed is returned once the queue is drained.
func (q *Queue) Pull(ctx context.Context) (protocol.Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = protocol.Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return protocol.Message{}, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		}
	}
}

// Close wakes every blocked Pull. Calling it more than once is harmless.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
