package codec

import (
	"fmt"
	"io"

	"github.com/hongjun500/echo-dtm/internal/action"
)

const (
	ApplicationJson     = "application/json"
	ApplicationProtobuf = "application/x-protobuf"
)

// Codec 动作信封的编解码器
type Codec interface {
	ContentType() string
	Encode(w io.Writer, e *action.Envelope) error
	Decode(r io.Reader, e *action.Envelope, maxSize int) error
}

// New returns the codec registered under name: json | protobuf.
func New(name string) (Codec, error) {
	switch name {
	case "", "json", "JSON":
		return JSONCodec{}, nil
	case "protobuf", "pb", "PB":
		return ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

// ForContentType picks the codec that produced a payload.
func ForContentType(ct string) (Codec, error) {
	switch ct {
	case ApplicationJson:
		return JSONCodec{}, nil
	case ApplicationProtobuf:
		return ProtobufCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown content type: %s", ct)
	}
}

func limit(r io.Reader, maxSize int) io.Reader {
	if maxSize > 0 {
		return io.LimitReader(r, int64(maxSize))
	}
	return r
}
