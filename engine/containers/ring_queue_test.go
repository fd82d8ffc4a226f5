package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFixed(t *testing.T) {
	rq := NewRingQueue[int](2)
	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, rq.Enqueue(3))

	v, _ = rq.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = rq.Dequeue()
	assert.Equal(t, 3, v)

	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueGrowKeepsOrder(t *testing.T) {
	rq := NewGrowableRingQueue[int](2)
	require.NoError(t, rq.Enqueue(0))
	require.NoError(t, rq.Enqueue(1))
	_, _ = rq.Dequeue()
	// write index has wrapped; growing must unroll the ring
	for i := 2; i < 9; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.Equal(t, 8, rq.Len())

	var got []int
	rq.Drain(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, got)
	assert.True(t, rq.IsEmpty())
}
