package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueuePreservesOrder(t *testing.T) {
	q := NewInMemoryQueue(3)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	require.NoError(t, q.Enqueue(3))
	assert.ErrorIs(t, q.Enqueue(4), ErrQueueFull)
	assert.Equal(t, 3, q.Size())

	got, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, got)
	assert.Equal(t, 0, q.Size())

	// draining frees room for new items
	require.NoError(t, q.Enqueue(5))
	got, err = q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{5}, got)

	got, err = q.ReadAllMessages()
	require.NoError(t, err)
	assert.Empty(t, got)
}
