package redisstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/codec"
	"github.com/hongjun500/echo-dtm/internal/observe"
	"github.com/hongjun500/echo-dtm/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const sinkName = "redis"

// Publisher writes action envelopes to a stream. Record blocks on the round
// trip to redis; wrap it in sink.Async before handing it to sessions.
type Publisher struct {
	cli     Client
	stream  string
	codec   codec.Codec
	timeout time.Duration
}

func NewPublisher(cli Client, stream string, c codec.Codec) *Publisher {
	if stream == "" {
		stream = DefaultActionStream
	}
	if c == nil {
		c = codec.JSONCodec{}
	}
	return &Publisher{cli: cli, stream: stream, codec: c, timeout: 2 * time.Second}
}

func (p *Publisher) Record(a action.Action) {
	var buf bytes.Buffer
	env := a.Envelope()
	if err := p.codec.Encode(&buf, &env); err != nil {
		observe.IncSinkDropped(sinkName, "error")
		logger.L().Sugar().Warnw("redis_action_encode_error", "kind", a.Kind, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err := p.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"ct": p.codec.ContentType(), "data": buf.Bytes()},
	}).Err()
	if err != nil {
		observe.IncSinkDropped(sinkName, "error")
		logger.L().Sugar().Warnw("redis_action_publish_error", "kind", a.Kind, "err", err)
	}
}

// Tail reads the action stream from id onwards ("$" for new entries only,
// "0" for everything) and calls fn per envelope until ctx is done or fn fails.
func Tail(ctx context.Context, cli Client, stream, id string, fn func(id string, e action.Envelope) error) error {
	if stream == "" {
		stream = DefaultActionStream
	}
	for {
		res, err := cli.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, id},
			Count:   100,
			Block:   5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xread %s: %w", stream, err)
		}
		for _, str := range res {
			for _, xmsg := range str.Messages {
				id = xmsg.ID
				env, err := decodeAction(xmsg)
				if err != nil {
					logger.L().Sugar().Warnw("redis_action_decode_error", "id", xmsg.ID, "err", err)
					continue
				}
				if err := fn(xmsg.ID, env); err != nil {
					return err
				}
			}
		}
	}
}

func decodeAction(xmsg redis.XMessage) (action.Envelope, error) {
	ct, _ := xmsg.Values["ct"].(string)
	c, err := codec.ForContentType(ct)
	if err != nil {
		return action.Envelope{}, err
	}
	var data []byte
	switch v := xmsg.Values["data"].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return action.Envelope{}, fmt.Errorf("unexpected data type %T", v)
	}
	var env action.Envelope
	if err := c.Decode(bytes.NewReader(data), &env, 0); err != nil {
		return action.Envelope{}, err
	}
	return env, nil
}
