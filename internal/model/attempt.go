package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/shuffle"
)

// AttemptStatus enumerates the two mutually exclusive phases of an attempt.
type AttemptStatus string

const (
	AttemptStatusDraft AttemptStatus = "DRAFT"
	AttemptStatusFinal AttemptStatus = "FINAL"
)

// AttemptKey identifies the single attempt a student may hold for an exam.
type AttemptKey struct {
	ExamID    uuid.UUID
	StudentID int
}

// AnswerRecord is one stored answer. SelectedIndex is the position the
// student clicked in their shuffled presentation; ShuffledToOriginal is a
// copy of the option mapping so scoring stays reproducible even if the paper
// is re-derived differently later. IsCorrect is populated only on final
// records — drafts never carry correctness.
type AnswerRecord struct {
	QuestionID         uuid.UUID        `json:"question_id"`
	SelectedIndex      int              `json:"selected_index"`
	OriginalNumber     int              `json:"original_number"`
	ShuffledPosition   int              `json:"shuffled_position,omitempty"`
	ShuffledToOriginal *shuffle.Mapping `json:"shuffled_to_original,omitempty"`
	IsCorrect          *bool            `json:"is_correct,omitempty"`
}

// Draft is the mutable in-progress phase of an attempt. It is repeatedly
// overwritten by autosave and destroyed by finalization.
type Draft struct {
	ExamID               uuid.UUID       `json:"exam_id"`
	StudentID            int             `json:"student_id"`
	Answers              []AnswerRecord  `json:"answers"`
	ReviewFlags          map[string]bool `json:"review_flags"`
	CurrentQuestionIndex int             `json:"current_question_index"`
	TimeLeftSeconds      int             `json:"time_left_seconds"`
	TotalQuestions       int             `json:"total_questions"`
	TestStartedAt        *time.Time      `json:"test_started_at,omitempty"`
	LastSavedAt          time.Time       `json:"last_saved_at"`
	LastHeartbeat        time.Time       `json:"last_heartbeat"`
	AutoSaveCount        int             `json:"auto_save_count"`
	ResumeCount          int             `json:"resume_count"`
	CrashDetected        bool            `json:"crash_detected"`
}

// DraftPatch carries the fields one autosave call overwrites. Counters are
// not part of the patch: the store increments them atomically.
type DraftPatch struct {
	Answers              []AnswerRecord
	ReviewFlags          map[string]bool
	CurrentQuestionIndex int
	TimeLeftSeconds      int
	TotalQuestions       int
	TestStartedAt        *time.Time
}

// FinalRecord is the immutable scored outcome of an attempt. Once written it
// is never mutated or deleted by this core.
type FinalRecord struct {
	SubmissionID        uuid.UUID      `json:"submission_id"`
	ExamID              uuid.UUID      `json:"exam_id"`
	StudentID           int            `json:"student_id"`
	Answers             []AnswerRecord `json:"answers"`
	Score               int            `json:"score"`
	Percentage          float64        `json:"percentage"`
	TotalQuestions      int            `json:"total_questions"`
	AnsweredQuestions   int            `json:"answered_questions"`
	UnansweredQuestions int            `json:"unanswered_questions"`
	TimeSpentSeconds    int            `json:"time_spent_seconds"`
	TestStartedAt       *time.Time     `json:"test_started_at,omitempty"`
	SubmittedAt         time.Time      `json:"submitted_at"`
	AutoSubmitted       bool           `json:"auto_submitted"`
}

// StaleAttempt is a draft whose heartbeat has gone silent, as reported to
// operational tooling.
type StaleAttempt struct {
	ExamID        uuid.UUID `json:"exam_id"`
	StudentID     int       `json:"student_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastSavedAt   time.Time `json:"last_saved_at"`
	CrashDetected bool      `json:"crash_detected"`
}

// ─── Request payloads ──────────────────────────────────────────────────────

// AnswerIn is one answer entry as reported by the client. SelectedIndex is a
// *float64 so a missing or non-integer value can be dropped per entry instead
// of failing the whole request.
type AnswerIn struct {
	QuestionID         string           `json:"question_id" binding:"required"`
	SelectedIndex      *float64         `json:"selected_index"`
	OriginalNumber     int              `json:"original_number"`
	ShuffledPosition   int              `json:"shuffled_position"`
	ShuffledToOriginal *shuffle.Mapping `json:"shuffled_to_original"`
}

// AutosaveRequest is the payload of one periodic progress snapshot.
type AutosaveRequest struct {
	Answers              []AnswerIn      `json:"answers"`
	ReviewFlags          map[string]bool `json:"review_flags"`
	CurrentQuestionIndex int             `json:"current_question_index" binding:"min=0"`
	TimeLeftSeconds      int             `json:"time_left_seconds" binding:"min=0"`
	TestStartedAt        *time.Time      `json:"test_started_at"`
	TotalQuestions       int             `json:"total_questions" binding:"required,min=1"`
}

// SubmitRequest is the payload of a final submission.
type SubmitRequest struct {
	Answers          []AnswerIn `json:"answers"`
	TimeSpentSeconds int        `json:"time_spent_seconds" binding:"min=0"`
	TestStartedAt    *time.Time `json:"test_started_at"`
	AutoSubmitted    bool       `json:"auto_submitted"`
}
