package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/internal/registry"
	"github.com/hongjun500/echo-dtm/internal/session"
	"github.com/hongjun500/echo-dtm/internal/sink"
	"github.com/hongjun500/echo-dtm/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is one end of a net.Pipe reporting a fixed peer address.
type fakeConn struct {
	net.Conn
	peer   net.Addr
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(peer string) (*fakeConn, net.Conn) {
	server, client := net.Pipe()
	addr, _ := net.ResolveTCPAddr("tcp", peer)
	return &fakeConn{Conn: server, peer: addr, closed: make(chan struct{})}, client
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.peer }
func (c *fakeConn) Source() transport.Source {
	return transport.NewTCPSource(c, 0)
}
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.Conn.Close()
}

type fakeListener struct {
	conns  chan transport.Conn
	err    error
	closed chan struct{}
	once   sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{conns: make(chan transport.Conn), closed: make(chan struct{})}
}

func (l *fakeListener) Name() string   { return "fake" }
func (l *fakeListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
func (l *fakeListener) Accept() (transport.Conn, error) {
	select {
	case c, ok := <-l.conns:
		if !ok {
			return nil, l.err
		}
		return c, nil
	case <-l.closed:
		return nil, transport.ErrListenerClosed
	}
}

type harness struct {
	srv  *Server
	rec  *sink.Recorder
	ends chan session.Result
	errc chan error
}

func start(t *testing.T, mode transport.Mode, l transport.Listener, reg *registry.Registry) (*harness, context.CancelFunc) {
	t.Helper()
	h := &harness{rec: sink.NewRecorder(), ends: make(chan session.Result, 8), errc: make(chan error, 1)}
	h.srv = &Server{
		Local:    1,
		Mode:     mode,
		Listener: l,
		Registry: reg,
		Sink:     h.rec,
		OnSessionEnd: func(_ uint64, res session.Result) {
			h.ends <- res
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.errc <- h.srv.Run(ctx) }()
	return h, cancel
}

func (h *harness) waitEnd(t *testing.T) session.Result {
	t.Helper()
	select {
	case res := <-h.ends:
		return res
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not end")
		return session.Result{}
	}
}

func TestReplayScenario(t *testing.T) {
	reg := registry.New(registry.WithBase(7))
	q := reg.QueueFor(7)
	require.NoError(t, q.Push(protocol.Message{Type: "msg", JSON: "hello"}))
	require.NoError(t, q.Push(protocol.Message{Type: protocol.StopType, JSON: ""}))

	l, err := transport.ListenTCP("127.0.0.1:0", transport.Options{})
	require.NoError(t, err)
	h, cancel := start(t, transport.Replay, l, reg)
	defer cancel()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	res := h.waitEnd(t)
	assert.Equal(t, session.ReasonStop, res.Reason)
	assert.Equal(t, []action.Action{
		action.Start(1),
		action.Receive(1, 7, "hello"),
		action.Reply(1, 7, "hello"),
	}, h.rec.Actions())
}

func TestReplayOversizedScenario(t *testing.T) {
	reg := registry.New()
	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, reg.QueueFor(1).Push(protocol.Message{Type: "msg", JSON: string(big)}))

	l := newFakeListener()
	h, cancel := start(t, transport.Replay, l, reg)
	defer cancel()

	conn, client := newFakeConn("10.0.0.1:4000")
	defer client.Close()
	l.conns <- conn

	res := h.waitEnd(t)
	assert.Equal(t, session.ReasonOversized, res.Reason)
	assert.Equal(t, []action.Action{action.Start(1)}, h.rec.Actions())
	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatalf("connection not closed after session end")
	}
}

func TestLiveEcho(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1:0", transport.Options{})
	require.NoError(t, err)
	h, cancel := start(t, transport.Live, l, registry.New())
	defer cancel()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	require.NoError(t, client.Close())

	res := h.waitEnd(t)
	assert.Equal(t, session.ReasonEOF, res.Reason)
	got := h.rec.Actions()
	require.Len(t, got, 3)
	assert.Equal(t, action.ReceiveFromClient, got[1].Kind)
	assert.Equal(t, "ping", got[1].Payload)
	assert.Equal(t, action.Reply(got[1].Local, got[1].Remote, "ping"), got[2])
}

func TestReconnectKeepsRemoteID(t *testing.T) {
	reg := registry.New()
	l := newFakeListener()
	h, cancel := start(t, transport.Replay, l, reg)
	defer cancel()

	var remotes []uint64
	for i := 0; i < 2; i++ {
		conn, client := newFakeConn("192.168.0.5:6000")
		id := reg.Resolve("192.168.0.5", 6000)
		remotes = append(remotes, id)
		require.NoError(t, reg.QueueFor(id).Push(protocol.Message{Type: "msg", JSON: "again"}))
		require.NoError(t, reg.QueueFor(id).Push(protocol.Stop()))
		l.conns <- conn
		assert.Equal(t, session.ReasonStop, h.waitEnd(t).Reason)
		_ = client.Close()
	}
	assert.Equal(t, remotes[0], remotes[1])

	got := h.rec.For(remotes[0])
	require.Len(t, got, 4)
	for _, a := range got {
		assert.Equal(t, remotes[0], a.Remote)
	}
}

func TestConcurrentSameRemoteIsRejected(t *testing.T) {
	reg := registry.New()
	l := newFakeListener()
	h, cancel := start(t, transport.Replay, l, reg)
	defer cancel()

	first, c1 := newFakeConn("10.1.1.1:7000")
	defer c1.Close()
	l.conns <- first

	second, c2 := newFakeConn("10.1.1.1:7000")
	defer c2.Close()
	l.conns <- second
	select {
	case <-second.closed:
	case <-time.After(time.Second):
		t.Fatalf("second consumer for the same queue must be refused")
	}

	require.NoError(t, reg.QueueFor(reg.Resolve("10.1.1.1", 7000)).Push(protocol.Stop()))
	assert.Equal(t, session.ReasonStop, h.waitEnd(t).Reason)
}

func TestAcceptErrorIsReturned(t *testing.T) {
	l := newFakeListener()
	l.err = errors.New("too many open files")
	h, cancel := start(t, transport.Live, l, registry.New())
	defer cancel()
	close(l.conns)

	select {
	case err := <-h.errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accept")
		assert.ErrorIs(t, err, l.err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return on accept error")
	}
	assert.Equal(t, []action.Action{action.Start(1)}, h.rec.Actions())
}

func TestCancelClosesListener(t *testing.T) {
	reg := registry.New()
	l := newFakeListener()
	h, cancel := start(t, transport.Replay, l, reg)

	conn, client := newFakeConn("10.2.2.2:1")
	defer client.Close()
	l.conns <- conn

	cancel()
	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return on cancel")
	}
	// the replay session blocked on its queue observes the same cancellation
	assert.Equal(t, session.ReasonCanceled, h.waitEnd(t).Reason)
	h.srv.Wait()
}

func TestRunWithoutListener(t *testing.T) {
	assert.Error(t, (&Server{}).Run(context.Background()))
}
