package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
	"github.com/rs/zerolog"
)

// HeartbeatService records liveness pings from in-progress client sessions
// and surfaces attempts whose heartbeat has gone silent. It detects crashed
// sessions; it never remediates them.
type HeartbeatService struct {
	store repository.AttemptStore
	log   zerolog.Logger
}

// NewHeartbeatService creates a new HeartbeatService.
func NewHeartbeatService(store repository.AttemptStore, log zerolog.Logger) *HeartbeatService {
	return &HeartbeatService{
		store: store,
		log:   log.With().Str("component", "heartbeat_service").Logger(),
	}
}

// Record stores a heartbeat on the student's draft, clearing any crash flag.
// Final attempts do not accept heartbeats, and a ping without a draft is a
// no-op; either way the returned timestamp is the server's view of now.
func (s *HeartbeatService) Record(ctx context.Context, examID uuid.UUID, studentID int) (time.Time, error) {
	ts, touched, err := s.store.TouchHeartbeat(ctx, model.AttemptKey{ExamID: examID, StudentID: studentID})
	if err != nil {
		return time.Time{}, fmt.Errorf("touch heartbeat: %w", err)
	}
	if !touched {
		return time.Now(), nil
	}
	return ts, nil
}

// ListStale returns all active drafts whose heartbeat is older than the
// silence threshold — the operational view of likely-crashed sessions.
func (s *HeartbeatService) ListStale(ctx context.Context, silence time.Duration) ([]model.StaleAttempt, error) {
	stale, err := s.store.ListStaleDrafts(ctx, silence)
	if err != nil {
		return nil, fmt.Errorf("list stale drafts: %w", err)
	}
	return stale, nil
}

// FlagCrashed marks every silent draft as crash-detected and returns the
// flagged keys. Called by the background sweep.
func (s *HeartbeatService) FlagCrashed(ctx context.Context, silence time.Duration) ([]model.AttemptKey, error) {
	keys, err := s.store.MarkCrashed(ctx, silence)
	if err != nil {
		return nil, fmt.Errorf("mark crashed: %w", err)
	}
	return keys, nil
}
