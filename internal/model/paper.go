package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/shuffle"
)

// Paper records the randomized presentation generated for one student:
// the question order they saw and, per question, the option mapping.
// Write-once — a mapping handed to the client is never regenerated, so
// scoring stays reproducible against exactly what the student saw.
type Paper struct {
	ExamID         uuid.UUID                  `json:"exam_id"`
	StudentID      int                        `json:"student_id"`
	QuestionOrder  []uuid.UUID                `json:"question_order"`
	OptionMappings map[string]shuffle.Mapping `json:"option_mappings"` // question id → mapping
	CreatedAt      time.Time                  `json:"created_at"`
	ConsumedAt     *time.Time                 `json:"consumed_at,omitempty"`
}
