package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobsRunAndReportStatus(t *testing.T) {
	var ran atomic.Int32
	q := NewWorkerQueue(HandlerFunc(func(_ context.Context, job Job) error {
		ran.Add(1)
		if job.ProductID == "bad" {
			return errors.New("no such product")
		}
		return nil
	}), nil, WithWorkers(2), WithQueueSize(4))

	ctx := context.Background()
	okID, err := q.Enqueue(ctx, Job{CompanyID: "acme", ProductID: "p1", Opening: decimal.NewFromInt(10)})
	require.NoError(t, err)
	badID, err := q.Enqueue(ctx, Job{CompanyID: "acme", ProductID: "bad"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, okID)

	q.Shutdown(ctx)
	assert.Equal(t, int32(2), ran.Load())

	st, ok := q.Status(okID)
	require.True(t, ok)
	assert.Equal(t, JobDone, st.State)
	assert.NotNil(t, st.FinishedAt)

	st, ok = q.Status(badID)
	require.True(t, ok)
	assert.Equal(t, JobFailed, st.State)
	assert.Equal(t, "no such product", st.Error)

	_, ok = q.Status(uuid.New())
	assert.False(t, ok)
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := NewWorkerQueue(HandlerFunc(func(context.Context, Job) error { return nil }), nil)
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	_, err := q.Enqueue(context.Background(), Job{CompanyID: "acme"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestEnqueueBackpressureHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := NewWorkerQueue(HandlerFunc(func(context.Context, Job) error {
		<-release
		return nil
	}), nil, WithWorkers(1), WithQueueSize(1))

	ctx := context.Background()
	_, err := q.Enqueue(ctx, Job{ProductID: "running"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	_, err = q.Enqueue(ctx, Job{ProductID: "buffered"})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	id, err := q.Enqueue(short, Job{ProductID: "overflow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uuid.Nil, id)

	close(release)
	q.Shutdown(ctx)
}

func TestHandlerGetsTimeout(t *testing.T) {
	done := make(chan error, 1)
	q := NewWorkerQueue(HandlerFunc(func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}), nil, WithProcessTimeout(10*time.Millisecond))

	_, err := q.Enqueue(context.Background(), Job{})
	require.NoError(t, err)
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
	q.Shutdown(context.Background())
}

func TestStatusHistoryIsBounded(t *testing.T) {
	q := NewWorkerQueue(HandlerFunc(func(context.Context, Job) error { return nil }), nil,
		WithWorkers(1), WithStatusHistory(2))

	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, Job{CompanyID: "acme", ProductID: "p1"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	q.Shutdown(ctx)

	_, ok := q.Status(ids[0])
	assert.False(t, ok)
	for _, id := range ids[1:] {
		st, ok := q.Status(id)
		require.True(t, ok)
		assert.Equal(t, JobDone, st.State)
	}
}
