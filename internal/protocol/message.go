package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// StopType 保留的哨兵消息类型，收到后会话结束
	StopType = "stop"
	// LiveType is the type given to chunks read from a live connection.
	LiveType = "data"
	// MaxLength bounds the payload of a single message, in bytes.
	MaxLength = 1024
)

var (
	ErrMissingType   = errors.New("missing field: type")
	ErrNotObject     = errors.New("payload not object")
	ErrMissingRemote = errors.New("missing field: remote")
)

// Message is one inbound unit, either pulled from a replay queue or read from a socket.
type Message struct {
	Type string `json:"type"`
	JSON string `json:"json"`
}

// Stop returns the sentinel message.
func Stop() Message { return Message{Type: StopType} }

// Live wraps raw socket bytes.
func Live(b []byte) Message { return Message{Type: LiveType, JSON: string(b)} }

func (m Message) IsStop() bool { return m.Type == StopType }

// Oversized reports whether the payload exceeds limit. A limit <= 0 means MaxLength.
func (m Message) Oversized(limit int) bool {
	if limit <= 0 {
		limit = MaxLength
	}
	return len(m.JSON) > limit
}

// Decode 解析外部驱动投递的 {"type": ..., "json": ...} 对象
func Decode(raw []byte) (Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Message{}, ErrNotObject
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("json decode: %w", err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

// Encode is the inverse of Decode.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(m)
}

// Input is one replay instruction from an external driver: deliver Message
// to the session of Remote.
type Input struct {
	Remote uint64 `json:"remote"`
	Message
}

// DecodeInput parses {"remote": id, "type": ..., "json": ...}.
func DecodeInput(raw []byte) (Input, error) {
	m, err := Decode(raw)
	if err != nil {
		return Input{}, err
	}
	var in struct {
		Remote *uint64 `json:"remote"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &in); err != nil {
		return Input{}, fmt.Errorf("json decode: %w", err)
	}
	if in.Remote == nil {
		return Input{}, ErrMissingRemote
	}
	return Input{Remote: *in.Remote, Message: m}, nil
}

func EncodeInput(in Input) ([]byte, error) {
	if in.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(in)
}
