package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/hongjun500/echo-dtm/internal/bus/jsonl"
	"github.com/hongjun500/echo-dtm/internal/bus/redisstream"
	"github.com/hongjun500/echo-dtm/internal/codec"
	"github.com/hongjun500/echo-dtm/internal/config"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/internal/registry"
	"github.com/hongjun500/echo-dtm/internal/server"
	"github.com/hongjun500/echo-dtm/internal/sink"
	"github.com/hongjun500/echo-dtm/internal/transport"
	"github.com/hongjun500/echo-dtm/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// argError 参数错误，退出码 1 并打印用法
type argError struct{ err error }

func (e argError) Error() string { return e.err.Error() }
func (e argError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(config.New())
	if err := cmd.ExecuteContext(ctx); err != nil {
		var ae argError
		if errors.As(err, &ae) {
			fmt.Fprintf(os.Stderr, "Usage: %s\n%v\n", cmd.Use, err)
		} else {
			logger.L().Sugar().Errorw("server_exit", "err", err)
		}
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "echo-server <port> <id>",
		Short:         "echo server with live and replay transports",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return argError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			port, id, err := parseArgs(args)
			if err != nil {
				return argError{err}
			}
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			cfg.Port, cfg.LocalID = port, id
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml/toml/json)")
	f.String("mode", "live", "live|replay")
	f.String("transport", "tcp", "tcp|websocket")
	f.String("framing", "raw", "raw|frame (tcp only)")
	f.String("sink", "log", "comma separated sinks: log,redis,none")
	f.String("codec", "json", "redis sink codec: json|protobuf")
	f.String("replay-file", "", "JSON lines replay input, - for stdin")
	f.String("trace-out", "", "append every action as a JSON line to this file")
	f.String("redis-addr", "127.0.0.1:6379", "redis address")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	f.String("log-level", "info", "debug|info|warn|error")
	for _, name := range []string{"mode", "transport", "framing", "sink", "codec",
		"replay-file", "trace-out", "redis-addr", "metrics-addr", "log-level"} {
		_ = v.BindPFlag(flagKey(name), f.Lookup(name))
	}
	return cmd
}

func flagKey(name string) string { return strings.ReplaceAll(name, "-", "_") }

// parseArgs 严格解析 <port> <id>，不接受前后缀垃圾字符
func parseArgs(args []string) (int, uint64, error) {
	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q: %w", args[0], err)
	}
	id, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid id %q: %w", args[1], err)
	}
	return int(port), id, nil
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logger.SetLevel(cfg.LogLevel)
	log := logger.L().Sugar()

	mode, err := transport.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	var closers []io.Closer
	defer func() {
		// 逆序关闭：先停 sink，再断 redis
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	var cli redisstream.Client
	if cfg.NeedsRedis() {
		rdb := redisstream.NewClient(cfg.RedisAddr, cfg.RedisDB)
		cli = rdb
		closers = append(closers, rdb)
	}

	root, err := buildSink(cfg, cli, &closers)
	if err != nil {
		return err
	}

	reg := registry.New(registry.WithBase(cfg.RegistryBase))
	closers = append(closers, closerFunc(func() error { reg.Close(); return nil }))

	ln, err := transport.Listen(cfg.Transport, net.JoinHostPort("", strconv.Itoa(cfg.Port)), transport.Options{
		MaxLength: cfg.MaxLength,
		Framing:   transport.Framing(cfg.Framing),
		WSPath:    cfg.WSPath,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := &server.Server{
		Local:    cfg.LocalID,
		Mode:     mode,
		Listener: ln,
		Registry: reg,
		Sink:     root,
		Limit:    cfg.MaxLength,
	}
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return observe.StartHTTP(gctx, cfg.MetricsAddr) })
		log.Infow("metrics_listen", "addr", cfg.MetricsAddr)
	}

	if mode == transport.Replay {
		if cfg.ReplayFile != "" {
			g.Go(func() error { return feedFile(gctx, cfg.ReplayFile, reg) })
		} else {
			b := redisstream.New(cli, cfg.ReplayStream, cfg.ReplayGroup)
			if err := b.EnsureGroup(ctx); err != nil {
				log.Warnw("replay_group_error", "stream", cfg.ReplayStream, "err", err)
			}
			consumer := cfg.Consumer
			if consumer == "" {
				consumer = consumerName(cfg.LocalID)
			}
			g.Go(func() error { return b.Consume(gctx, consumer, reg) })
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Infow("server_shutdown", "local", cfg.LocalID)
		return nil
	}
	return err
}

// buildSink 组合根 sink：每个子 sink 单独 Safe，慢 sink 走 Async，
// closers 按创建顺序追加，关闭时逆序执行。
func buildSink(cfg *config.Config, rdb redisstream.Client, closers *[]io.Closer) (sink.Sink, error) {
	var sinks []sink.Sink
	add := func(name string, s sink.Sink) { sinks = append(sinks, sink.Safe(name, s)) }
	async := func(name string, s sink.Sink) {
		a := sink.NewAsync(name, sink.Safe(name, s), cfg.SinkBuffer)
		*closers = append(*closers, a)
		add(name, a)
	}

	for _, name := range cfg.Sinks() {
		switch name {
		case "log":
			add("log", sink.NewLog(logger.Named("action")))
		case "redis":
			c, err := codec.New(cfg.Codec)
			if err != nil {
				return nil, err
			}
			async("redis", redisstream.NewPublisher(rdb, cfg.ActionStream, c))
		case "none":
		}
	}
	if cfg.TraceOut != "" {
		f, err := os.OpenFile(cfg.TraceOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
		w := sink.NewWriter(f)
		// the Async drains into w before w is closed
		*closers = append(*closers, w)
		async("trace", w)
	}
	return sink.Metered(sink.Multi(sinks...)), nil
}

// feedFile 把 JSON lines 轨迹推入各远端队列，读完即返回
func feedFile(ctx context.Context, path string, queues *registry.Registry) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open replay: %w", err)
		}
		defer f.Close()
		r = f
	}
	type result struct {
		n   int
		err error
	}
	// stdin 的阻塞读无法被 ctx 打断，放到独立 goroutine
	done := make(chan result, 1)
	go func() {
		n, err := jsonl.Feed(ctx, r, queues)
		done <- result{n, err}
	}()
	select {
	case <-ctx.Done():
		return nil
	case res := <-done:
		logger.L().Sugar().Infow("replay_fed", "file", path, "messages", res.n)
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			return fmt.Errorf("replay %s: %w", path, res.err)
		}
		return nil
	}
}

func consumerName(local uint64) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()
	}
	return fmt.Sprintf("%s-%d", host, local)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
