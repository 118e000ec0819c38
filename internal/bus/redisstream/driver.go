package redisstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hongjun500/echo-dtm/internal/bus"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const driverName = "redis"

// Publish appends one replay input to the stream. Drivers outside the server use it.
func (b *Bus) Publish(ctx context.Context, in protocol.Input) error {
	payload, err := protocol.EncodeInput(in)
	if err != nil {
		return err
	}
	return b.cli.XAdd(ctx, &redis.XAddArgs{Stream: b.stream, Values: map[string]any{"data": payload}}).Err()
}

// Consume blocks, pushing every stream entry into the queue of its remote,
// until ctx is canceled. Entries are acked once handled, malformed ones included.
func (b *Bus) Consume(ctx context.Context, consumer string, queues bus.Queues) error {
	log := logger.L().Sugar().With("stream", b.stream, "group", b.group, "consumer", consumer)
	for {
		res, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    100,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// transient errors: back off and retry
			log.Warnw("redis_read_error", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, str := range res {
			for _, xmsg := range str.Messages {
				b.handle(xmsg, queues)
				if err := b.cli.XAck(ctx, b.stream, b.group, xmsg.ID).Err(); err != nil {
					log.Warnw("redis_ack_error", "id", xmsg.ID, "err", err)
				}
			}
		}
	}
}

func (b *Bus) handle(xmsg redis.XMessage, queues bus.Queues) {
	log := logger.L().Sugar()
	in, err := decodeEntry(xmsg)
	if err != nil {
		observe.IncRejected(driverName, "decode")
		log.Warnw("redis_decode_error", "id", xmsg.ID, "err", err)
		return
	}
	if err := queues.QueueFor(in.Remote).Push(in.Message); err != nil {
		observe.IncRejected(driverName, "closed")
		log.Warnw("redis_push_error", "id", xmsg.ID, "remote", in.Remote, "err", err)
		return
	}
	observe.IncEnqueued(driverName)
}

func decodeEntry(xmsg redis.XMessage) (protocol.Input, error) {
	raw, ok := xmsg.Values["data"]
	if !ok {
		return protocol.Input{}, errors.New("entry has no data field")
	}
	switch v := raw.(type) {
	case string:
		return protocol.DecodeInput([]byte(v))
	case []byte:
		return protocol.DecodeInput(v)
	default:
		return protocol.Input{}, fmt.Errorf("unexpected data type %T", raw)
	}
}
