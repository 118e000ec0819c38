package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/pkg/logger"
)

// WSSource is the live source over a websocket: one websocket message is one
// Message, echoed back with the same message type.
type WSSource struct {
	conn     *websocket.Conn
	lastType int
}

func NewWSSource(conn *websocket.Conn) *WSSource {
	return &WSSource{conn: conn, lastType: websocket.TextMessage}
}

func (s *WSSource) Next(_ context.Context) (protocol.Message, error) {
	mt, data, err := s.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			// gorilla has already answered with a 1009 close; the message is dropped unread
			return protocol.Message{}, withContext(ErrFrameTooLarge, "websocket read limit")
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
			errors.Is(err, io.EOF) {
			return protocol.Message{}, ErrEndOfSession
		}
		return protocol.Message{}, fmt.Errorf("ws read: %w", err)
	}
	s.lastType = mt
	return protocol.Live(data), nil
}

func (s *WSSource) Reply(m protocol.Message) error {
	if err := s.conn.WriteMessage(s.lastType, []byte(m.JSON)); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (s *WSSource) Close() error { return s.conn.Close() }

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *wsConn) Source() Source       { return NewWSSource(c.conn) }
func (c *wsConn) Close() error         { return c.conn.Close() }

// WSListener accepts websocket upgrades on an HTTP server and hands the
// upgraded connections to Accept one at a time.
type WSListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	opt      Options

	conns     chan *websocket.Conn
	serveErr  chan error
	done      chan struct{}
	closeOnce sync.Once
}

func ListenWS(addr string, opt Options) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := newWSListener(ln, opt)
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.serveErr <- err
		}
	}()
	logger.L().Sugar().Infow("websocket_listen", "addr", ln.Addr().String(), "path", l.opt.WSPath)
	return l, nil
}

func newWSListener(ln net.Listener, opt Options) *WSListener {
	opt = opt.withDefaults()
	l := &WSListener{
		ln:  ln,
		opt: opt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opt.ReadBufferSize,
			WriteBufferSize: opt.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns:    make(chan *websocket.Conn),
		serveErr: make(chan error, 1),
		done:     make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(opt.WSPath, l.handleUpgrade)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return l
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		logger.L().Sugar().Warnw("ws_upgrade_error", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(l.opt.WSReadLimit)
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

func (l *WSListener) Name() string   { return WebSocket }
func (l *WSListener) Addr() net.Addr { return l.ln.Addr() }

func (l *WSListener) Accept() (Conn, error) {
	select {
	case conn := <-l.conns:
		return &wsConn{conn: conn}, nil
	case err := <-l.serveErr:
		return nil, fmt.Errorf("websocket serve: %w", err)
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

// Close stops the HTTP server. Connections already handed out stay open.
func (l *WSListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.server.Close()
	})
	return err
}
