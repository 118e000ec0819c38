package transport

import (
	"github.com/hongjun500/echo-dtm/internal/protocol"
)

// Framing selects how a live TCP byte stream is cut into messages.
type Framing string

const (
	// FramingRaw treats every read of up to MaxLength bytes as one message.
	FramingRaw Framing = "raw"
	// FramingFrame uses 4-byte big-endian length-prefixed frames.
	FramingFrame Framing = "frame"
)

// Options configures listeners and live sources (shared across TCP/WS where applicable)
type Options struct {
	MaxLength int     // per-message payload limit in bytes, default protocol.MaxLength
	Framing   Framing // TCP only, default raw

	WSPath          string // WebSocket endpoint path, defaults to "/ws"
	WSReadLimit     int64  // hard cap per websocket message, default 64KB
	ReadBufferSize  int
	WriteBufferSize int
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = protocol.MaxLength
	}
	if o.Framing == "" {
		o.Framing = FramingRaw
	}
	if o.WSPath == "" {
		o.WSPath = "/ws"
	}
	if o.WSReadLimit <= 0 {
		o.WSReadLimit = 64 * 1024
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 1024
	}
	return o
}
