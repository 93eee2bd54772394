package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SweepWorker periodically flags drafts whose heartbeat has gone silent.
// Detection only: the flag is cleared again by the next heartbeat or
// autosave, and remediation (resume or auto-submit) stays with the client
// flow and the proctor.
type SweepWorker struct {
	heartbeats *service.HeartbeatService
	rdb        *redis.Client
	interval   time.Duration
	silence    time.Duration
	log        zerolog.Logger
}

func NewSweepWorker(heartbeats *service.HeartbeatService, rdb *redis.Client, interval, silence time.Duration, log zerolog.Logger) *SweepWorker {
	return &SweepWorker{
		heartbeats: heartbeats,
		rdb:        rdb,
		interval:   interval,
		silence:    silence,
		log:        log.With().Str("component", "sweep_worker").Logger(),
	}
}

func (w *SweepWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Dur("silence", w.silence).
		Msg("SweepWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. SweepWorker stopping...")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	flagged, err := w.heartbeats.FlagCrashed(ctx, w.silence)
	if err != nil {
		w.log.Error().Err(err).Msg("Crash sweep failed")
		return
	}
	if len(flagged) == 0 {
		return
	}

	w.log.Warn().Int("count", len(flagged)).Msg("Flagged silent attempts as crashed")

	if w.rdb == nil {
		return
	}
	for _, key := range flagged {
		event := map[string]any{
			"type":       "attempt_crashed",
			"exam_id":    key.ExamID.String(),
			"student_id": key.StudentID,
			"at":         time.Now().UTC(),
		}
		raw, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := w.rdb.Publish(ctx, config.CacheKey.MonitorChannel(), raw).Err(); err != nil {
			w.log.Warn().Err(err).Msg("Failed to publish crash event")
		}
	}
}
