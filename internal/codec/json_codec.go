package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hongjun500/echo-dtm/internal/action"
)

type JSONCodec struct{}

func (JSONCodec) ContentType() string { return ApplicationJson }

func (JSONCodec) Encode(w io.Writer, e *action.Envelope) error {
	return json.NewEncoder(w).Encode(e)
}

func (JSONCodec) Decode(r io.Reader, e *action.Envelope, maxSize int) error {
	raw, err := io.ReadAll(limit(r, maxSize))
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return fmt.Errorf("payload not object")
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	if e.Payload.Type == "" {
		return fmt.Errorf("missing field: payload.type")
	}
	return nil
}
