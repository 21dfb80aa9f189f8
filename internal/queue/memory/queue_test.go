package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hireworks/jobsift/internal/jobs"
)

func TestEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	item := jobs.RunItem{
		RunID:  "run-1",
		Params: jobs.RunParameters{Keywords: "golang engineer"},
	}
	require.NoError(t, q.Enqueue(context.Background(), item))
	require.Equal(t, 1, q.Len())

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "golang engineer", got.Params.Keywords)
}

func TestEnqueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), jobs.RunItem{RunID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, jobs.RunItem{RunID: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDequeueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), jobs.RunItem{RunID: "a"}))
	q.Close()
	q.Close() // idempotent

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got.RunID)

	_, err = q.Dequeue(context.Background())
	require.Error(t, err)
}
