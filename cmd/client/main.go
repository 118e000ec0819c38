// echo-client 连接 echo-server 并逐行发送 stdin，打印回显；
// --push 模式改为把输入写入 redis 回放流，供 replay 模式的服务端消费。
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hongjun500/echo-dtm/internal/bus/redisstream"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/internal/transport"
	"github.com/spf13/cobra"
)

type options struct {
	addr     string
	ws       bool
	wsPath   string
	frame    bool
	timeout  time.Duration
	push     bool
	remote   uint64
	redis    string
	stream   string
	stopLast bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "echo-client",
		Short:        "send stdin lines to an echo server and print the echoes",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.push {
				return push(cmd.Context(), o, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return chat(cmd.Context(), o, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "127.0.0.1:9000", "server address")
	f.BoolVar(&o.ws, "ws", false, "use websocket instead of tcp")
	f.StringVar(&o.wsPath, "ws-path", "/ws", "websocket endpoint path")
	f.BoolVar(&o.frame, "frame", false, "tcp length-prefixed framing")
	f.DurationVar(&o.timeout, "timeout", 5*time.Second, "per echo read timeout")
	f.BoolVar(&o.push, "push", false, "publish lines to the redis replay stream instead")
	f.Uint64Var(&o.remote, "remote", 1, "remote id for --push")
	f.StringVar(&o.redis, "redis-addr", "127.0.0.1:6379", "redis address for --push")
	f.StringVar(&o.stream, "stream", redisstream.DefaultReplayStream, "replay stream for --push")
	f.BoolVar(&o.stopLast, "stop", true, "append a stop message after stdin ends (--push)")
	return cmd
}

// echoer 一次发送一条消息并等待回显
type echoer interface {
	Echo(line []byte) ([]byte, error)
	Close() error
}

func dial(o options) (echoer, error) {
	if o.ws {
		u := url.URL{Scheme: "ws", Host: o.addr, Path: o.wsPath}
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.String(), err)
		}
		return &wsEchoer{c: c, timeout: o.timeout}, nil
	}
	c, err := net.DialTimeout("tcp", o.addr, o.timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.addr, err)
	}
	if o.frame {
		return &frameEchoer{c: c, fc: transport.NewFrameCodec(), timeout: o.timeout}, nil
	}
	return &rawEchoer{c: c, timeout: o.timeout}, nil
}

func chat(ctx context.Context, o options, in io.Reader, out io.Writer) error {
	e, err := dial(o)
	if err != nil {
		return err
	}
	defer e.Close()
	go func() {
		<-ctx.Done()
		_ = e.Close()
	}()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		reply, err := e.Echo(line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%s\n", reply)
	}
	return sc.Err()
}

func push(ctx context.Context, o options, in io.Reader, out io.Writer) error {
	cli := redisstream.NewClient(o.redis, 0)
	b := redisstream.New(cli, o.stream, "")
	defer b.Close()

	n := 0
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if err := b.Publish(ctx, protocol.Input{Remote: o.remote, Message: protocol.Live(sc.Bytes())}); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if o.stopLast {
		if err := b.Publish(ctx, protocol.Input{Remote: o.remote, Message: protocol.Stop()}); err != nil {
			return fmt.Errorf("publish stop: %w", err)
		}
	}
	fmt.Fprintf(out, "pushed %d messages for remote %d to %s\n", n, o.remote, o.stream)
	return nil
}

type rawEchoer struct {
	c       net.Conn
	timeout time.Duration
}

func (e *rawEchoer) Echo(line []byte) ([]byte, error) {
	if _, err := e.c.Write(line); err != nil {
		return nil, err
	}
	// 服务端按读到的块回显，读满同样的字节数
	buf := make([]byte, len(line))
	_ = e.c.SetReadDeadline(time.Now().Add(e.timeout))
	if _, err := io.ReadFull(e.c, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *rawEchoer) Close() error { return ignoreClosed(e.c.Close()) }

type frameEchoer struct {
	c       net.Conn
	fc      *transport.FrameCodec
	timeout time.Duration
}

func (e *frameEchoer) Echo(line []byte) ([]byte, error) {
	if err := e.fc.WriteFrame(e.c, line); err != nil {
		return nil, err
	}
	_ = e.c.SetReadDeadline(time.Now().Add(e.timeout))
	return e.fc.ReadFrame(e.c)
}

func (e *frameEchoer) Close() error { return ignoreClosed(e.c.Close()) }

type wsEchoer struct {
	c       *websocket.Conn
	timeout time.Duration
}

func (e *wsEchoer) Echo(line []byte) ([]byte, error) {
	if err := e.c.WriteMessage(websocket.TextMessage, line); err != nil {
		return nil, err
	}
	_ = e.c.SetReadDeadline(time.Now().Add(e.timeout))
	_, data, err := e.c.ReadMessage()
	return data, err
}

func (e *wsEchoer) Close() error {
	_ = e.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return ignoreClosed(e.c.Close())
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
