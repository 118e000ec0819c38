package codec

import (
	"fmt"
	"io"

	"github.com/hongjun500/echo-dtm/internal/action"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of one action envelope:
//
//	message Action {
//	  string action_type = 1;
//	  uint64 source      = 2;
//	  uint64 dest        = 3;
//	  string type        = 4;
//	  string message     = 5;
//	}
const (
	fieldActionType protowire.Number = 1
	fieldSource     protowire.Number = 2
	fieldDest       protowire.Number = 3
	fieldType       protowire.Number = 4
	fieldMessage    protowire.Number = 5
)

// ProtobufCodec 将动作信封编码为 Protocol Buffers 线格式
type ProtobufCodec struct{}

func (ProtobufCodec) ContentType() string { return ApplicationProtobuf }

func (ProtobufCodec) Encode(w io.Writer, e *action.Envelope) error {
	var b []byte
	b = appendString(b, fieldActionType, string(e.ActionType))
	b = protowire.AppendTag(b, fieldSource, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Source)
	b = protowire.AppendTag(b, fieldDest, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Dest)
	b = appendString(b, fieldType, string(e.Payload.Type))
	b = appendString(b, fieldMessage, e.Payload.Message)
	_, err := w.Write(b)
	return err
}

func (ProtobufCodec) Decode(r io.Reader, e *action.Envelope, maxSize int) error {
	b, err := io.ReadAll(limit(r, maxSize))
	if err != nil {
		return err
	}
	var out action.Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("protobuf decode: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldSource && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("protobuf decode source: %w", protowire.ParseError(n))
			}
			out.Source, b = v, b[n:]
		case num == fieldDest && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("protobuf decode dest: %w", protowire.ParseError(n))
			}
			out.Dest, b = v, b[n:]
		case typ == protowire.BytesType && (num == fieldActionType || num == fieldType || num == fieldMessage):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("protobuf decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldActionType:
				out.ActionType = action.Direction(s)
			case fieldType:
				out.Payload.Type = action.Kind(s)
			case fieldMessage:
				out.Payload.Message = s
			}
		default:
			// unknown field, skip
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("protobuf decode: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if out.Payload.Type == "" {
		return fmt.Errorf("missing field: payload.type")
	}
	*e = out
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
