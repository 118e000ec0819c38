package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize is the hard per-frame cap, independent of the message limit.
const maxFrameSize = 16 * 1024 * 1024

// FrameCodec 数据包的编解码器，使用长度前缀帧格式
type FrameCodec struct {
	readMu  sync.Mutex // 读锁
	writeMu sync.Mutex // 写锁
	bufPool *sync.Pool // 用于复用缓冲区
}

func NewFrameCodec() *FrameCodec {
	return &FrameCodec{
		bufPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4*1024)
			},
		},
	}
}

// WriteFrame 写入一个帧
func (c *FrameCodec) WriteFrame(w io.Writer, payload []byte) error {
	if c == nil || w == nil {
		return fmt.Errorf("framecodec or writer is nil")
	}
	if len(payload) > maxFrameSize {
		return withContext(ErrFrameTooLarge, fmt.Sprint(len(payload)))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := w.Write(frame)
	return err
}

// ReadFrame 读取一个帧。A clean EOF before the header is returned as io.EOF.
func (c *FrameCodec) ReadFrame(r io.Reader) ([]byte, error) {
	return c.ReadFrameTrunc(r, 0)
}

// ReadFrameTrunc reads one frame but keeps at most keep bytes of its body,
// the rest is read and discarded so the stream stays aligned. keep <= 0 keeps
// the whole body.
func (c *FrameCodec) ReadFrameTrunc(r io.Reader, keep int) ([]byte, error) {
	if c == nil || r == nil {
		return nil, fmt.Errorf("framecodec or reader is nil")
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint32(header[:]))
	if length > maxFrameSize {
		return nil, withContext(ErrFrameTooLarge, fmt.Sprint(length))
	}
	n := length
	if keep > 0 && keep < length {
		n = keep
	}

	buf := c.bufPool.Get().([]byte)
	if cap(buf) < n {
		buf = make([]byte, n)
	} else {
		buf = buf[:n]
	}
	defer func() { c.bufPool.Put(buf[:cap(buf)]) }()
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, unexpectedEOF(err)
	}
	if rest := length - n; rest > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(rest)); err != nil {
			return nil, unexpectedEOF(err)
		}
	}
	// 拷贝一份，调用方可以持有
	data := make([]byte, n)
	copy(data, buf)
	return data, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
