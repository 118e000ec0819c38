// Package jsonl replays a trace of JSON lines into session queues.
//
// Each non-empty line is {"remote": <id>, "type": <string>, "json": <string>}.
// Lines starting with '#' are comments. Malformed lines are logged and skipped.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hongjun500/echo-dtm/internal/bus"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/pkg/logger"
)

const driverName = "jsonl"

// maxLine bounds a single trace line; oversized payloads must still fit so the session can drop them.
const maxLine = 1 << 20

// Feed pushes every input read from r and returns how many were enqueued.
// Lines longer than maxLine are skipped like any other malformed line.
func Feed(ctx context.Context, r io.Reader, queues bus.Queues) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	log := logger.L().Sugar()
	n, lineNo := 0, 0
	for {
		raw, tooLong, err := readLine(br)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("jsonl line %d: %w", lineNo+1, err)
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		lineNo++
		if tooLong {
			observe.IncRejected(driverName, "too_long")
			log.Warnw("jsonl_line_too_long", "line", lineNo, "max", maxLine)
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		in, err := protocol.DecodeInput(line)
		if err != nil {
			observe.IncRejected(driverName, "decode")
			log.Warnw("jsonl_decode_error", "line", lineNo, "err", err)
			continue
		}
		if err := queues.QueueFor(in.Remote).Push(in.Message); err != nil {
			observe.IncRejected(driverName, "closed")
			log.Warnw("jsonl_push_error", "line", lineNo, "remote", in.Remote, "err", err)
			continue
		}
		observe.IncEnqueued(driverName)
		n++
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLine is read to its end and discarded, tooLong reports it. io.EOF is
// returned only when nothing is left.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	var buf []byte
	read := false
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		body := bytes.TrimSuffix(chunk, []byte("\n"))
		if !tooLong {
			if len(buf)+len(body) > maxLine {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, body...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !read {
				return nil, false, io.EOF
			}
			return buf, tooLong, nil
		case err != nil:
			return nil, false, err
		}
		return buf, tooLong, nil
	}
}
