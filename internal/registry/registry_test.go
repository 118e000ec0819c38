package registry

import (
	"net"
	"sync"
	"testing"

	"github.com/hongjun500/echo-dtm/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIsStable(t *testing.T) {
	r := New()
	a := r.Resolve("127.0.0.1", 5000)
	b := r.Resolve("127.0.0.1", 5001)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, r.Resolve("127.0.0.1", 5000))
	assert.Equal(t, 2, r.Len())
}

func TestResolveBase(t *testing.T) {
	r := New(WithBase(7))
	assert.Equal(t, uint64(7), r.Resolve("10.0.0.1", 1))
	assert.Equal(t, uint64(8), r.Resolve("10.0.0.1", 2))
}

func TestResolveAddr(t *testing.T) {
	r := New()
	tcp := &net.TCPAddr{IP: net.ParseIP("192.168.1.2"), Port: 4000}
	id1, err := r.ResolveAddr(tcp)
	require.NoError(t, err)
	assert.Equal(t, id1, r.Resolve("192.168.1.2", 4000))

	udp := &net.UDPAddr{IP: net.ParseIP("192.168.1.2"), Port: 4000}
	id2, err := r.ResolveAddr(udp)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same host:port must resolve identically regardless of addr type")

	_, err = r.ResolveAddr(nil)
	assert.Error(t, err)
}

func TestResolveConcurrent(t *testing.T) {
	r := New()
	const n = 64
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Resolve("h", 1)
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, r.Len())
}

func TestQueueForReusesInstance(t *testing.T) {
	r := New()
	q1 := r.QueueFor(3)
	q2 := r.QueueFor(3)
	assert.Same(t, q1, q2)
	assert.NotSame(t, q1, r.QueueFor(4))

	q1.Close()
	q3 := r.QueueFor(3)
	assert.NotSame(t, q1, q3, "closed queue must be replaced")
}

func TestAcquireIsExclusive(t *testing.T) {
	r := New()
	q, release, err := r.Acquire(9)
	require.NoError(t, err)
	assert.Same(t, r.QueueFor(9), q)

	_, _, err = r.Acquire(9)
	assert.ErrorIs(t, err, ErrQueueBusy)

	release()
	release()
	q2, release2, err := r.Acquire(9)
	require.NoError(t, err)
	assert.Same(t, q, q2, "reconnect reuses the queue")
	release2()
}

func TestProducerBeforeConsumer(t *testing.T) {
	r := New()
	require.NoError(t, r.QueueFor(5).Push(protocol.Message{Type: "msg", JSON: "early"}))
	q, release, err := r.Acquire(5)
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 1, q.Len())
}

func TestCloseClosesQueues(t *testing.T) {
	r := New()
	q := r.QueueFor(1)
	r.Close()
	assert.True(t, q.Closed())
	assert.True(t, r.QueueFor(2).Closed())
}
