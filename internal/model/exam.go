package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is the catalog entity describing one timed multiple-choice test.
// The attempt lifecycle core reads it, never writes it.
type Exam struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	DurationMinutes   int        `json:"duration_minutes"`
	IsActive          bool       `json:"is_active"`
	ActiveFrom        *time.Time `json:"active_from,omitempty"`
	ActiveTo          *time.Time `json:"active_to,omitempty"`
	ExtensionMinutes  int        `json:"extension_minutes"`
	EntryGraceMinutes int        `json:"entry_grace_minutes"`
	ShowScores        bool       `json:"show_scores"`
	ShuffleQuestions  bool       `json:"shuffle_questions"`
	ShuffleOptions    bool       `json:"shuffle_options"`
	QuestionCount     int        `json:"question_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Duration returns the exam duration as a time.Duration.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// SubmissionDeadline returns the absolute end of the submission window:
// active_to plus the extension period. Zero time if active_to is unset
// (always-open exam).
func (e *Exam) SubmissionDeadline() time.Time {
	if e.ActiveTo == nil {
		return time.Time{}
	}
	return e.ActiveTo.Add(time.Duration(e.ExtensionMinutes) * time.Minute)
}

// EntryDeadline returns the latest moment a student may still open the paper:
// active_to plus the entry grace period. Zero time if active_to is unset.
func (e *Exam) EntryDeadline() time.Time {
	if e.ActiveTo == nil {
		return time.Time{}
	}
	return e.ActiveTo.Add(time.Duration(e.EntryGraceMinutes) * time.Minute)
}
