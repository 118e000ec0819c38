package transport

import (
	"fmt"
	"net"
)

const (
	Tcp       = "tcp"
	WebSocket = "websocket"
)

// Mode 会话的数据来源：live 直接读写连接，replay 从远端队列取消息
type Mode string

const (
	Live   Mode = "live"
	Replay Mode = "replay"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Live, Replay:
		return Mode(s), nil
	default:
		return "", withContext(ErrUnknownMode, s)
	}
}

// Conn is an accepted connection: a peer address plus a way to talk to it.
type Conn interface {
	RemoteAddr() net.Addr
	// Source returns the live source reading and writing this connection.
	Source() Source
	Close() error
}

// Listener 统一的监听接口，屏蔽 TCP 与 WebSocket 的 accept 差异
type Listener interface {
	Name() string
	Accept() (Conn, error)
	Addr() net.Addr
	Close() error
}

// Listen opens a listener of the given transport kind.
func Listen(kind, addr string, opt Options) (Listener, error) {
	switch kind {
	case "", Tcp:
		return ListenTCP(addr, opt)
	case WebSocket, "ws":
		return ListenWS(addr, opt)
	default:
		return nil, fmt.Errorf("listen %s: %w", kind, withContext(ErrUnknownTransport, kind))
	}
}
