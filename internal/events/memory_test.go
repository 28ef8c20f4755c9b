package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, Event{ID: "1", Type: TypeDriftOpened, PartNumber: "A"}))
	require.NoError(t, q.Publish(ctx, Event{ID: "2", Type: TypeRevisionChange, PartNumber: "A"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ev, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", ev.ID)
	ev, err = q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", ev.ID)
}

func TestMemoryQueueConsumeHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Consume(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.True(t, errors.Is(q.Publish(context.Background(), Event{}), ErrClosed))
	_, err := q.Consume(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeDecisionLogged.Valid())
	assert.False(t, Type("Other").Valid())
}
