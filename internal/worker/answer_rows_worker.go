package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
)

const (
	AnswerRowBatchSize    = 200
	AnswerRowBatchTimeout = 2 * time.Second
	AnswerRowPollTimeout  = 1 * time.Second
)

// AnswerRowWriter persists normalised answer rows.
type AnswerRowWriter interface {
	BulkInsertAnswerRows(ctx context.Context, rows []model.AnswerRow) error
	InsertAnswerRow(ctx context.Context, row model.AnswerRow) error
}

// AnswerRowsWorker drains the answer rows queue into Postgres in batches.
// Rows that fail to insert on their own go back to the tail of the queue.
type AnswerRowsWorker struct {
	writer AnswerRowWriter
	rdb    *redis.Client
	log    zerolog.Logger
}

func NewAnswerRowsWorker(writer AnswerRowWriter, rdb *redis.Client, log zerolog.Logger) *AnswerRowsWorker {
	return &AnswerRowsWorker{
		writer: writer,
		rdb:    rdb,
		log:    log.With().Str("component", "answer_rows_worker").Logger(),
	}
}

// ─── Worker loop with batching ───────────────────────────────────────────────

// Start blocks until ctx is cancelled, then flushes what it holds.
func (w *AnswerRowsWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnswerRowsWorker started")

	batch := make([]model.AnswerRow, 0, AnswerRowBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AnswerRowBatchSize || time.Since(lastFlush) >= AnswerRowBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested, flushing remaining batch")
			w.flushSafe(context.WithoutCancel(ctx), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, AnswerRowPollTimeout, config.WorkerKey.PersistAnswerRowsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					// Back off so a dead Redis does not spin the loop.
					time.Sleep(AnswerRowPollTimeout)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var row model.AnswerRow
			if err := json.Unmarshal([]byte(item[1]), &row); err != nil {
				w.log.Error().Err(err).Msg("Invalid answer row payload")
				continue
			}

			batch = append(batch, row)
		}
	}
}

// ─── Batch insert with per-row fallback ──────────────────────────────────────

func (w *AnswerRowsWorker) flushSafe(ctx context.Context, batch []model.AnswerRow) {
	if len(batch) == 0 {
		return
	}

	err := w.writer.BulkInsertAnswerRows(ctx, batch)
	if err == nil {
		w.log.Debug().Int("rows", len(batch)).Msg("Answer rows persisted")
		return
	}
	w.log.Warn().Err(err).Int("rows", len(batch)).Msg("Bulk answer row insert failed, using fallback")

	for _, row := range batch {
		if err := w.writer.InsertAnswerRow(ctx, row); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", row.AttemptID.String()).
				Str("question_id", row.QuestionID.String()).
				Msg("InsertAnswerRow failed, requeueing")
			raw, _ := json.Marshal(row)
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswerRowsQueue, raw)
		}
	}
}
