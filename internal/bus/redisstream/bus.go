package redisstream

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultReplayStream = "echo:replay"
	DefaultReplayGroup  = "echo"
	DefaultActionStream = "echo:actions"
)

// Client is the part of *redis.Client the bus uses.
type Client interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

type Bus struct {
	cli    Client
	stream string
	group  string
}

func New(cli Client, stream, group string) *Bus {
	if stream == "" {
		stream = DefaultReplayStream
	}
	if group == "" {
		group = DefaultReplayGroup
	}
	return &Bus{cli: cli, stream: stream, group: group}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.cli.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *Bus) Stream() string { return b.stream }

func (b *Bus) Close() error { return b.cli.Close() }
