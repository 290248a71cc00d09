package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/taxledger/internal/jobs"
)

func newTestQueue(store jobs.JobStore) *Queue {
	return NewQueue(QueueOptions{BufferSize: 10, Workers: 2, Backoff: time.Millisecond, MaxRetries: 2}, store, zerolog.Nop())
}

func jobStatus(t *testing.T, store *Store, id string) jobs.JobStatus {
	t.Helper()
	job, err := store.GetJob(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.Status
}

func TestQueue_ProcessesJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)

	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		assert.Equal(t, jobs.JobTypeArchiveIngestion, job.GetType())
		handled.Add(1)
		return nil
	}))

	job := &jobs.ArchiveJob{RunID: "run-1", SessionHash: "h1", ItemCount: 3}
	require.NoError(t, q.PublishArchive(ctx, job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, 2, job.MaxRetries)

	require.Eventually(t, func() bool {
		return jobStatus(t, store, job.JobID) == jobs.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), handled.Load())

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("bucket unavailable")
		}
		return nil
	}))

	job := &jobs.ArchiveJob{RunID: "run-2"}
	require.NoError(t, q.PublishArchive(ctx, job))

	require.Eventually(t, func() bool {
		return jobStatus(t, store, job.JobID) == jobs.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.RetryCount)
	assert.Equal(t, int32(2), attempts.Load())

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := newTestQueue(store)

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		return errors.New("permission denied")
	}))

	job := &jobs.ArchiveJob{RunID: "run-3", MaxRetries: 1}
	require.NoError(t, q.PublishArchive(ctx, job))

	require.Eventually(t, func() bool {
		return jobStatus(t, store, job.JobID) == jobs.JobStatusFailed
	}, time.Second, 5*time.Millisecond)

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "permission denied", saved.Error)
	assert.Equal(t, 1, saved.RetryCount)

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_ClosedRejectsPublish(t *testing.T) {
	q := newTestQueue(nil)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.PublishArchive(context.Background(), &jobs.ArchiveJob{})
	assert.Error(t, err)
	assert.Error(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error { return nil }))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, h := range []string{"a", "b", "a", "a"} {
		require.NoError(t, s.SaveJob(ctx, &jobs.ArchiveJob{
			JobID:       string(rune('1' + i)),
			SessionHash: h,
			Status:      jobs.JobStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.UpdateJobStatus(ctx, "4", jobs.JobStatusFailed, "boom"))

	all, err := s.ListJobs(ctx, jobs.JobFilter{SessionHash: "a"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1", all[0].JobID)
	assert.Equal(t, "4", all[2].JobID)

	pending, err := s.ListJobs(ctx, jobs.JobFilter{SessionHash: "a", Status: jobs.JobStatusPending, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "3", pending[0].JobID)

	assert.Error(t, s.SaveJob(ctx, &jobs.ArchiveJob{}))
	_, err = s.GetJob(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""))
}

func TestQueue_PublishRespectsDeadlineWhenFull(t *testing.T) {
	q := NewQueue(QueueOptions{BufferSize: 1, Workers: 1}, nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.PublishArchive(context.Background(), &jobs.ArchiveJob{RunID: "r1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.PublishArchive(ctx, &jobs.ArchiveJob{RunID: "r2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
