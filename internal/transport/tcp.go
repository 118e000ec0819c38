package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/hongjun500/echo-dtm/internal/protocol"
)

// TCPSource is the live source over a raw byte stream. Each read of up to
// limit bytes is one message and is echoed back verbatim.
type TCPSource struct {
	conn net.Conn
	buf  []byte
}

func NewTCPSource(conn net.Conn, limit int) *TCPSource {
	if limit <= 0 {
		limit = protocol.MaxLength
	}
	return &TCPSource{conn: conn, buf: make([]byte, limit)}
}

// Next blocks on the socket. ctx is not consulted: a live read is only ended
// by the peer, or by closing the connection.
func (s *TCPSource) Next(_ context.Context) (protocol.Message, error) {
	n, err := s.conn.Read(s.buf)
	if n > 0 {
		// a short read with an error still yields the data; the error comes back on the next read
		return protocol.Live(s.buf[:n]), nil
	}
	return protocol.Message{}, readErr(err)
}

func (s *TCPSource) Reply(m protocol.Message) error {
	if _, err := io.WriteString(s.conn, m.JSON); err != nil {
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (s *TCPSource) Close() error { return s.conn.Close() }

// FrameSource is the live source over length-prefixed frames. A frame larger
// than the message limit is cut to limit+1 bytes, enough for the session to
// see it as oversized without buffering the whole body.
type FrameSource struct {
	conn  net.Conn
	codec *FrameCodec
	limit int
}

func NewFrameSource(conn net.Conn, limit int) *FrameSource {
	if limit <= 0 {
		limit = protocol.MaxLength
	}
	return &FrameSource{conn: conn, codec: NewFrameCodec(), limit: limit}
}

func (s *FrameSource) Next(_ context.Context) (protocol.Message, error) {
	data, err := s.codec.ReadFrameTrunc(s.conn, s.limit+1)
	if err != nil {
		return protocol.Message{}, readErr(err)
	}
	return protocol.Live(data), nil
}

func (s *FrameSource) Reply(m protocol.Message) error {
	if err := s.codec.WriteFrame(s.conn, []byte(m.JSON)); err != nil {
		return fmt.Errorf("frame write: %w", err)
	}
	return nil
}

func (s *FrameSource) Close() error { return s.conn.Close() }

func readErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return ErrEndOfSession
	}
	return fmt.Errorf("tcp read: %w", err)
}
