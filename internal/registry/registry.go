// Package registry owns the address → remote id table and the remote id → queue table.
package registry

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hongjun500/echo-dtm/internal/queue"
)

var ErrQueueBusy = errors.New("queue already claimed by another session")

type entry struct {
	q       *queue.Queue
	claimed bool
}

// Registry 地址注册表。同一 (host, port) 在进程生命周期内总是映射到同一个 id；
// 队列在断线重连之间复用，但同一时刻只允许一个会话消费
type Registry struct {
	mu     sync.Mutex
	ids    map[string]uint64
	next   uint64
	queues map[uint64]*entry
	closed bool
}

type Option func(*Registry)

// WithBase sets the first id handed out. Defaults to 1.
func WithBase(base uint64) Option {
	return func(r *Registry) { r.next = base }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		ids:    make(map[string]uint64),
		next:   1,
		queues: make(map[uint64]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the stable id of host:port, allocating one on first sight.
func (r *Registry) Resolve(host string, port int) uint64 {
	key := net.JoinHostPort(host, strconv.Itoa(port))
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[key] = id
	return id
}

// ResolveAddr is Resolve for a peer address as reported by a connection.
func (r *Registry) ResolveAddr(addr net.Addr) (uint64, error) {
	if addr == nil {
		return 0, fmt.Errorf("resolve: nil address")
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return r.Resolve(tcp.IP.String(), tcp.Port), nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", addr.String(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: bad port: %w", addr.String(), err)
	}
	return r.Resolve(host, port), nil
}

// QueueFor returns the queue of remote, creating it if absent or if the
// previous one was closed. Producers use it to enqueue before the session exists.
func (r *Registry) QueueFor(remote uint64) *queue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entryLocked(remote).q
}

// Acquire claims remote's queue for one consumer. release must be called when
// the session ends so that a reconnect can claim the same queue again.
func (r *Registry) Acquire(remote uint64) (*queue.Queue, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(remote)
	if e.claimed {
		return nil, nil, fmt.Errorf("remote %d: %w", remote, ErrQueueBusy)
	}
	e.claimed = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			e.claimed = false
			r.mu.Unlock()
		})
	}
	return e.q, release, nil
}

func (r *Registry) entryLocked(remote uint64) *entry {
	if e, ok := r.queues[remote]; ok && !e.q.Closed() {
		return e
	}
	e := &entry{q: queue.New()}
	if r.closed {
		e.q.Close()
	}
	r.queues[remote] = e
	return e
}

// Close closes every queue, ending all replay sessions blocked on Pull.
// Queues handed out afterwards are already closed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, e := range r.queues {
		e.q.Close()
	}
}

// Len 已知的远端数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
