package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(i int) protocol.Message {
	return protocol.Message{Type: "msg", JSON: fmt.Sprint(i)}
}

func TestPushPullFIFO(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(msg(i)))
	}
	assert.Equal(t, 5, q.Len())
	for i := 0; i < 5; i++ {
		m, err := q.Pull(context.Background())
		require.NoError(t, err)
		assert.Equal(t, msg(i), m)
	}
	assert.Equal(t, 0, q.Len())
}

func TestPullBlocksUntilPush(t *testing.T) {
	q := New()
	got := make(chan protocol.Message, 1)
	go func() {
		m, err := q.Pull(context.Background())
		if err == nil {
			got <- m
		}
	}()

	select {
	case <-got:
		t.Fatalf("pull returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(msg(1)))
	select {
	case m := <-got:
		assert.Equal(t, msg(1), m)
	case <-time.After(2 * time.Second):
		t.Fatalf("pull not woken by push")
	}
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := New()
	require.NoError(t, q.Push(msg(1)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(msg(2)), ErrClosed)
	m, err := q.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, msg(1), m)

	_, err = q.Pull(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, q.Closed())
}

func TestCloseWakesBlockedPull(t *testing.T) {
	q := New()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pull(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not wake pull")
	}
}

func TestPullHonorsContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pull(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Each producer pushes an increasing sequence; the consumer must observe
// every producer's sequence in order, with nothing lost or duplicated.
func TestConcurrentProducersKeepOrder(t *testing.T) {
	const producers, perProducer = 8, 200
	q := New()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(protocol.Message{Type: fmt.Sprint(p), JSON: fmt.Sprint(i)})
			}
		}(p)
	}

	last := make(map[string]int)
	for p := 0; p < producers; p++ {
		last[fmt.Sprint(p)] = -1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := 0; n < producers*perProducer; n++ {
		m, err := q.Pull(ctx)
		require.NoError(t, err)
		var i int
		_, err = fmt.Sscan(m.JSON, &i)
		require.NoError(t, err)
		require.Equal(t, last[m.Type]+1, i, "producer %s out of order", m.Type)
		last[m.Type] = i
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}
