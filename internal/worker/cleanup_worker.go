package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	CleanupBatchSize    = 50
	CleanupBatchTimeout = 2 * time.Second
	CleanupPollTimeout  = 1 * time.Second
)

// CleanupWorker settles the aftermath of finalized attempts: it stamps the
// student's paper as consumed, evicts the cached paper, and publishes the
// event for the ops monitor stream. Everything here is repair-friendly —
// failed batches are requeued, duplicates are idempotent.
type CleanupWorker struct {
	papers *repository.PaperRepository
	rdb    *redis.Client
	log    zerolog.Logger
}

func NewCleanupWorker(papers *repository.PaperRepository, rdb *redis.Client, log zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		papers: papers,
		rdb:    rdb,
		log:    log.With().Str("component", "cleanup_worker").Logger(),
	}
}

type cleanupPayload struct {
	ExamID       string `json:"exam_id"`
	StudentID    int    `json:"student_id"`
	SubmissionID string `json:"submission_id"`
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *CleanupWorker) Start(ctx context.Context) {
	w.log.Info().Msg("CleanupWorker started")

	batch := make([]*cleanupPayload, 0, CleanupBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= CleanupBatchSize || time.Since(lastFlush) >= CleanupBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, CleanupPollTimeout, config.WorkerKey.FinalizedAttemptsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p cleanupPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// ----------------------------------------------------------------
// Batch settle wrapper
// ----------------------------------------------------------------

func (w *CleanupWorker) flushSafe(ctx context.Context, batch []*cleanupPayload) {
	if len(batch) == 0 {
		return
	}

	keys := make([]model.AttemptKey, 0, len(batch))
	valid := make([]*cleanupPayload, 0, len(batch))
	for _, p := range batch {
		eID, err := uuid.Parse(p.ExamID)
		if err != nil {
			w.log.Error().Str("exam_id", p.ExamID).Msg("Invalid exam id in cleanup payload, dropping")
			continue
		}
		keys = append(keys, model.AttemptKey{ExamID: eID, StudentID: p.StudentID})
		valid = append(valid, p)
	}
	if len(keys) == 0 {
		return
	}

	if err := w.papers.MarkConsumed(ctx, keys); err != nil {
		w.log.Error().Err(err).Int("batch", len(keys)).Msg("Bulk paper consume failed — requeueing")
		for _, p := range valid {
			raw, _ := json.Marshal(p)
			w.rdb.RPush(ctx, config.WorkerKey.FinalizedAttemptsQueue, raw)
		}
		return
	}

	w.bulkEvictPapers(ctx, valid)
	w.publishMonitorEvents(ctx, valid)
}

// ----------------------------------------------------------------
// BULK Redis DEL for cached papers
// ----------------------------------------------------------------

func (w *CleanupWorker) bulkEvictPapers(ctx context.Context, batch []*cleanupPayload) {
	pipe := w.rdb.Pipeline()

	for _, p := range batch {
		key := config.CacheKey.StudentPaperKey(p.ExamID, p.StudentID)
		pipe.Del(ctx, key)
	}

	_, _ = pipe.Exec(ctx)
}

// ----------------------------------------------------------------
// Monitor fan-out
// ----------------------------------------------------------------

func (w *CleanupWorker) publishMonitorEvents(ctx context.Context, batch []*cleanupPayload) {
	for _, p := range batch {
		event := map[string]any{
			"type":          "attempt_finalized",
			"exam_id":       p.ExamID,
			"student_id":    p.StudentID,
			"submission_id": p.SubmissionID,
			"at":            time.Now().UTC(),
		}
		raw, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := w.rdb.Publish(ctx, config.CacheKey.MonitorChannel(), raw).Err(); err != nil {
			w.log.Warn().Err(err).Msg("Failed to publish monitor event")
		}
	}
}
