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

// ProgressService re-expands a stored draft into the client-facing shape so
// a reloaded page can repaint exactly the state it left, and owns the
// explicit resume action.
type ProgressService struct {
	store   repository.AttemptStore
	catalog repository.ExamCatalog
	// staleness is the ceiling beyond which a saved draft may not be
	// resumed (configured, see config.ResumeStaleness).
	staleness time.Duration
	log       zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(store repository.AttemptStore, catalog repository.ExamCatalog, staleness time.Duration, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		store:     store,
		catalog:   catalog,
		staleness: staleness,
		log:       log.With().Str("component", "progress_service").Logger(),
	}
}

// Progress is the client-facing snapshot of a saved draft. Answers is a
// positional array indexed by the question's place in this student's
// shuffled paper; unanswered slots are null.
type Progress struct {
	Answers              []*model.AnswerRecord `json:"answers"`
	ReviewFlags          map[string]bool       `json:"review_flags"`
	CurrentQuestionIndex int                   `json:"current_question_index"`
	TimeLeftSeconds      int                   `json:"time_left_seconds"`
	TestStartedAt        *time.Time            `json:"test_started_at,omitempty"`
	LastSavedAt          time.Time             `json:"last_saved_at"`
	AutoSaveCount        int                   `json:"auto_save_count"`
	ResumeCount          int                   `json:"resume_count"`
}

// ProgressResult wraps Progress with an existence flag: having no saved
// progress is a normal answer, not an error.
type ProgressResult struct {
	HasProgress bool      `json:"has_progress"`
	Progress    *Progress `json:"progress,omitempty"`
}

// LoadProgress returns the most recent draft for the student, expanded into
// positional form. Passive loading never touches resume_count — only the
// explicit Resume action does, so polling cannot inflate the counter.
func (s *ProgressService) LoadProgress(ctx context.Context, examID uuid.UUID, studentID int) (*ProgressResult, error) {
	_, found, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !found {
		return nil, ErrExamNotFound
	}

	key := model.AttemptKey{ExamID: examID, StudentID: studentID}

	if _, finalized, err := s.store.GetFinal(ctx, key); err != nil {
		return nil, fmt.Errorf("check final: %w", err)
	} else if finalized {
		return nil, ErrAlreadySubmitted
	}

	draft, found, err := s.store.GetDraft(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if !found {
		return &ProgressResult{HasProgress: false}, nil
	}

	if s.staleness > 0 && time.Since(draft.LastSavedAt) > s.staleness {
		return nil, ErrProgressTooStale
	}

	return &ProgressResult{
		HasProgress: true,
		Progress: &Progress{
			Answers:              s.expandAnswers(draft),
			ReviewFlags:          activeFlags(draft.ReviewFlags),
			CurrentQuestionIndex: draft.CurrentQuestionIndex,
			TimeLeftSeconds:      draft.TimeLeftSeconds,
			TestStartedAt:        draft.TestStartedAt,
			LastSavedAt:          draft.LastSavedAt,
			AutoSaveCount:        draft.AutoSaveCount,
			ResumeCount:          draft.ResumeCount,
		},
	}, nil
}

// Resume records the explicit "resume test" action by bumping resume_count.
// No-op (count 0) when no draft exists.
func (s *ProgressService) Resume(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	count, found, err := s.store.IncrementResumeCount(ctx, model.AttemptKey{ExamID: examID, StudentID: studentID})
	if err != nil {
		return 0, fmt.Errorf("increment resume count: %w", err)
	}
	if !found {
		return 0, nil
	}
	return count, nil
}

// expandAnswers places each stored answer at its slot in the student's
// shuffled presentation: shuffled_position when present, otherwise the
// original question number (legacy unshuffled drafts).
func (s *ProgressService) expandAnswers(draft *model.Draft) []*model.AnswerRecord {
	size := draft.TotalQuestions
	for _, a := range draft.Answers {
		if pos := answerSlot(a); pos+1 > size {
			size = pos + 1
		}
	}

	expanded := make([]*model.AnswerRecord, size)
	for i := range draft.Answers {
		a := draft.Answers[i]
		pos := answerSlot(a)
		if pos < 0 || pos >= size {
			s.log.Warn().
				Str("exam_id", draft.ExamID.String()).
				Int("student_id", draft.StudentID).
				Str("question_id", a.QuestionID.String()).
				Int("slot", pos).
				Msg("Stored answer has no usable position, skipping")
			continue
		}
		expanded[pos] = &a
	}
	return expanded
}

// answerSlot returns the zero-based slot of an answer in the presentation
// array, or -1 when neither ordinal was recorded.
func answerSlot(a model.AnswerRecord) int {
	if a.ShuffledPosition > 0 {
		return a.ShuffledPosition - 1
	}
	if a.OriginalNumber > 0 {
		return a.OriginalNumber - 1
	}
	return -1
}

// activeFlags reduces the stored review-flag map to entries that are true.
func activeFlags(flags map[string]bool) map[string]bool {
	active := make(map[string]bool)
	for k, v := range flags {
		if v {
			active[k] = true
		}
	}
	return active
}
