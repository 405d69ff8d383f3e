package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	bulkErr  error
	badRow   uuid.UUID
	rows     []model.AnswerRow
	bulkRuns int
}

func (f *fakeWriter) BulkInsertAnswerRows(_ context.Context, rows []model.AnswerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkRuns++
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeWriter) InsertAnswerRow(_ context.Context, row model.AnswerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.QuestionID == f.badRow {
		return errors.New("insert failed")
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeWriter) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func newWorker(t *testing.T, w *fakeWriter) (*AnswerRowsWorker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAnswerRowsWorker(w, rdb, zerolog.Nop()), mr, rdb
}

func row(attempt uuid.UUID) model.AnswerRow {
	return model.AnswerRow{
		AttemptID:         attempt,
		QuestionID:        uuid.New(),
		SelectedOptionIDs: []uuid.UUID{uuid.New()},
		Correct:           true,
		MarksAwarded:      1,
	}
}

func TestAnswerRowsWorker_DrainsQueueAndFlushesOnShutdown(t *testing.T) {
	writer := &fakeWriter{}
	w, mr, rdb := newWorker(t, writer)

	attempt := uuid.New()
	for i := 0; i < 3; i++ {
		raw, err := json.Marshal(row(attempt))
		require.NoError(t, err)
		require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistAnswerRowsQueue, raw).Err())
	}
	require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistAnswerRowsQueue, "not json").Err())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return !mr.Exists(config.WorkerKey.PersistAnswerRowsQueue)
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, 3, writer.stored())
}

func TestAnswerRowsWorker_FallbackRequeuesFailedRows(t *testing.T) {
	writer := &fakeWriter{bulkErr: errors.New("bulk failed")}
	w, mr, _ := newWorker(t, writer)

	attempt := uuid.New()
	good, bad := row(attempt), row(attempt)
	writer.badRow = bad.QuestionID

	w.flushSafe(context.Background(), []model.AnswerRow{good, bad})

	assert.Equal(t, 1, writer.bulkRuns)
	assert.Equal(t, 1, writer.stored())

	queued, err := mr.List(config.WorkerKey.PersistAnswerRowsQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var requeued model.AnswerRow
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &requeued))
	assert.Equal(t, bad.QuestionID, requeued.QuestionID)
}

func TestAnswerRowsWorker_EmptyBatchIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	w, _, _ := newWorker(t, writer)

	w.flushSafe(context.Background(), nil)
	assert.Zero(t, writer.bulkRuns)
}
