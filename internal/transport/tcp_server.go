package transport

import (
	"errors"
	"net"

	"github.com/hongjun500/echo-dtm/pkg/logger"
)

type tcpConn struct {
	conn net.Conn
	opt  Options
}

func (c *tcpConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *tcpConn) Close() error         { return c.conn.Close() }

func (c *tcpConn) Source() Source {
	if c.opt.Framing == FramingFrame {
		return NewFrameSource(c.conn, c.opt.MaxLength)
	}
	return NewTCPSource(c.conn, c.opt.MaxLength)
}

// TCPListener implements Listener over net.Listen("tcp").
type TCPListener struct {
	ln  net.Listener
	opt Options
}

func ListenTCP(addr string, opt Options) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	opt = opt.withDefaults()
	logger.L().Sugar().Infow("tcp_listen", "addr", ln.Addr().String(), "framing", opt.Framing)
	return &TCPListener{ln: ln, opt: opt}, nil
}

func (l *TCPListener) Name() string   { return Tcp }
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
func (l *TCPListener) Close() error   { return l.ln.Close() }

func (l *TCPListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return &tcpConn{conn: conn, opt: l.opt}, nil
}
