package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/model"
)

var (
	// ErrAlreadyFinal is returned when a write targets an attempt that has
	// already been promoted to its final record. A racing double-submit is
	// expected to observe this; it is a normal outcome, not a fault.
	ErrAlreadyFinal = errors.New("attempt already finalized")
)

// AttemptStore is the only gateway to the attempt document. Every operation
// is a single atomic mutation; no caller may read-modify-write around it.
type AttemptStore interface {
	// UpsertDraft creates the draft if absent, otherwise overwrites the
	// patched fields as one atomic write. auto_save_count is incremented by
	// exactly 1 per call inside the same statement. Returns ErrAlreadyFinal
	// if a final record exists for the key.
	UpsertDraft(ctx context.Context, key model.AttemptKey, patch model.DraftPatch) (*model.Draft, error)

	// GetDraft loads the current draft, reporting whether one exists.
	GetDraft(ctx context.Context, key model.AttemptKey) (*model.Draft, bool, error)

	// GetFinal loads the final record, reporting whether one exists.
	GetFinal(ctx context.Context, key model.AttemptKey) (*model.FinalRecord, bool, error)

	// PromoteToFinal atomically replaces the draft (or creates the record
	// outright on a direct submission) with an immutable final record.
	// Exactly one of N concurrent calls for the same key succeeds; the rest
	// observe ErrAlreadyFinal.
	PromoteToFinal(ctx context.Context, key model.AttemptKey, rec *model.FinalRecord) error

	// DeleteDraft removes the draft if present. Final records are untouched.
	DeleteDraft(ctx context.Context, key model.AttemptKey) error

	// TouchHeartbeat sets last_heartbeat to now and clears crash_detected,
	// only if a draft exists. Reports whether a draft was touched.
	TouchHeartbeat(ctx context.Context, key model.AttemptKey) (time.Time, bool, error)

	// IncrementResumeCount bumps resume_count atomically on an existing
	// draft. Reports the new count and whether a draft existed.
	IncrementResumeCount(ctx context.Context, key model.AttemptKey) (int, bool, error)

	// ListStaleDrafts returns drafts whose heartbeat is older than the
	// silence threshold.
	ListStaleDrafts(ctx context.Context, silence time.Duration) ([]model.StaleAttempt, error)

	// MarkCrashed flags every silent draft not yet flagged and returns the
	// keys it flagged. Detection only — nothing is remediated.
	MarkCrashed(ctx context.Context, silence time.Duration) ([]model.AttemptKey, error)
}

// ExamCatalog is the read-only collaborator that owns exams and questions.
type ExamCatalog interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, bool, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// PaperStore persists the randomized presentation generated per student.
type PaperStore interface {
	GetPaper(ctx context.Context, key model.AttemptKey) (*model.Paper, bool, error)

	// CreatePaper stores a freshly generated paper write-once. If another
	// request won the race, the stored winner is returned instead of the
	// argument — callers must present the returned paper.
	CreatePaper(ctx context.Context, paper *model.Paper) (*model.Paper, error)
}
