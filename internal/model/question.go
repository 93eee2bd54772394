package model

import (
	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/shuffle"
)

// Question is one multiple-choice question as stored in the catalog.
// Every question carries exactly 4 options; CorrectIndex is the zero-based
// index of the correct one in the un-shuffled option order.
type Question struct {
	ID           uuid.UUID                   `json:"id"`
	ExamID       uuid.UUID                   `json:"exam_id"`
	Prompt       string                      `json:"prompt"`
	Options      [shuffle.OptionCount]string `json:"options"`
	CorrectIndex int                         `json:"correct_index"`
	OrderNum     int                         `json:"order_num"`
}

// PaperQuestion is a question as presented to one student: options possibly
// shuffled, correct answer stripped, with everything the client must echo
// back on autosave/submit so scoring stays reproducible.
type PaperQuestion struct {
	ID                 uuid.UUID                   `json:"id"`
	Prompt             string                      `json:"prompt"`
	Options            [shuffle.OptionCount]string `json:"options"`
	Position           int                         `json:"position"`        // 1-based ordinal in this student's paper
	OriginalNumber     int                         `json:"original_number"` // 1-based ordinal in the un-shuffled exam
	ShuffledToOriginal shuffle.Mapping             `json:"shuffled_to_original"`
}

// PaperView is the student-facing payload for one exam paper.
type PaperView struct {
	ExamID          uuid.UUID       `json:"exam_id"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	Questions       []PaperQuestion `json:"questions"`
}
