package redisstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/echo-dtm/internal/action"
	"github.com/hongjun500/echo-dtm/internal/codec"
	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/hongjun500/echo-dtm/internal/registry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient serves scripted stream batches, then blocks until ctx is done.
type fakeClient struct {
	mu       sync.Mutex
	batches  [][]redis.XStream
	added    []*redis.XAddArgs
	acked    []string
	groupErr error
	addErr   error
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeClient) next(ctx context.Context) *redis.XStreamSliceCmd {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult(b, nil)
	}
	f.mu.Unlock()
	<-ctx.Done()
	return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
}

func (f *fakeClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	return f.next(ctx)
}

func (f *fakeClient) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	return f.next(ctx)
}

func (f *fakeClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func TestEnsureGroup(t *testing.T) {
	f := &fakeClient{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	assert.NoError(t, New(f, "", "").EnsureGroup(context.Background()))

	f.groupErr = errors.New("NOAUTH Authentication required")
	assert.Error(t, New(f, "", "").EnsureGroup(context.Background()))
}

func TestPublishEncodesInput(t *testing.T) {
	f := &fakeClient{}
	b := New(f, "replay", "g")
	require.NoError(t, b.Publish(context.Background(), protocol.Input{Remote: 7, Message: protocol.Message{Type: "msg", JSON: "hello"}}))
	require.Len(t, f.added, 1)
	assert.Equal(t, "replay", f.added[0].Stream)
	values := f.added[0].Values.(map[string]any)
	assert.JSONEq(t, `{"remote":7,"type":"msg","json":"hello"}`, string(values["data"].([]byte)))

	assert.Error(t, b.Publish(context.Background(), protocol.Input{Remote: 1}))
}

func TestConsumeFillsQueues(t *testing.T) {
	f := &fakeClient{batches: [][]redis.XStream{{{
		Stream: DefaultReplayStream,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{"data": `{"remote":7,"type":"msg","json":"hello"}`}},
			{ID: "2-0", Values: map[string]any{"data": `garbage`}},
			{ID: "3-0", Values: map[string]any{"other": "x"}},
			{ID: "4-0", Values: map[string]any{"data": `{"remote":7,"type":"stop","json":""}`}},
		},
	}}}}
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- New(f, "", "").Consume(ctx, "c1", reg) }()

	q := reg.QueueFor(7)
	m, err := q.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.JSON)
	m, err = q.Pull(ctx)
	require.NoError(t, err)
	assert.True(t, m.IsStop())

	require.Eventually(t, func() bool { return len(f.ackedIDs()) == 4 }, 2*time.Second, 5*time.Millisecond,
		"every entry is acked, malformed ones included")
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestPublisherRoundTrip(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSONCodec{}, codec.ProtobufCodec{}} {
		t.Run(c.ContentType(), func(t *testing.T) {
			f := &fakeClient{}
			p := NewPublisher(f, "", c)
			p.Record(action.Start(1))
			p.Record(action.Receive(1, 7, "hello"))
			require.Len(t, f.added, 2)

			var msgs []redis.XMessage
			for i, a := range f.added {
				assert.Equal(t, DefaultActionStream, a.Stream)
				msgs = append(msgs, redis.XMessage{ID: string(rune('a' + i)), Values: a.Values.(map[string]any)})
			}
			f.batches = [][]redis.XStream{{{Stream: DefaultActionStream, Messages: msgs}}}

			var got []action.Action
			stop := errors.New("enough")
			err := Tail(context.Background(), f, "", "0", func(_ string, e action.Envelope) error {
				got = append(got, e.Action())
				if len(got) == 2 {
					return stop
				}
				return nil
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, []action.Action{action.Start(1), action.Receive(1, 7, "hello")}, got)
		})
	}
}

func TestPublisherErrorDoesNotPanic(t *testing.T) {
	f := &fakeClient{addErr: errors.New("connection refused")}
	p := NewPublisher(f, "", nil)
	assert.NotPanics(t, func() { p.Record(action.Start(1)) })
}

func TestDecodeActionUnknownContentType(t *testing.T) {
	_, err := decodeAction(redis.XMessage{Values: map[string]any{"ct": "text/xml", "data": "x"}})
	assert.Error(t, err)
}
