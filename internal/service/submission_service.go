package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
	"github.com/luminedu/examgate-backend/internal/shuffle"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SubmissionService validates, de-shuffles, scores, and atomically promotes
// an attempt into its immutable final record. The store's conditional
// promote guarantees at most one final record per (exam, student) no matter
// how many submit calls race.
type SubmissionService struct {
	store   repository.AttemptStore
	catalog repository.ExamCatalog
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService. rdb may be nil; the
// post-finalization cleanup queue is then skipped.
func NewSubmissionService(store repository.AttemptStore, catalog repository.ExamCatalog, rdb *redis.Client, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store:   store,
		catalog: catalog,
		rdb:     rdb,
		log:     log.With().Str("component", "submission_service").Logger(),
	}
}

// SubmitResult is what the submitting client gets back. Score and Percentage
// are withheld (nil) when the exam does not show scores to students — a
// presentation decision only, the stored record always carries them.
type SubmitResult struct {
	SubmissionID      uuid.UUID `json:"submission_id"`
	Score             *int      `json:"score,omitempty"`
	Percentage        *float64  `json:"percentage,omitempty"`
	AnsweredQuestions int       `json:"answered_questions"`
	TotalQuestions    int       `json:"total_questions"`
}

// finalizedEvent is the payload queued for the cleanup worker.
type finalizedEvent struct {
	ExamID       string `json:"exam_id"`
	StudentID    int    `json:"student_id"`
	SubmissionID string `json:"submission_id"`
}

// Submit finalizes an attempt from a direct payload, or from the stored
// draft when the payload carries no answers (auto-submit after a crash).
func (s *SubmissionService) Submit(ctx context.Context, examID uuid.UUID, studentID int, req *model.SubmitRequest) (*SubmitResult, error) {
	exam, found, err := s.catalog.GetExam(ctx, examID)
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

	questions, err := s.catalog.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[string]model.Question, len(questions))
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		byID[q.ID.String()] = q
		known[q.ID.String()] = true
	}
	totalQuestions := len(questions)

	draft, hasDraft, err := s.store.GetDraft(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}

	entryLog := s.log.With().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Logger()

	var records []model.AnswerRecord
	if len(req.Answers) > 0 {
		records = s.collect(entryLog, req.Answers, known)
	} else if hasDraft {
		// Crash-path promotion: finalize whatever the last autosave held.
		records = draft.Answers
	}

	scored, score := s.scoreAnswers(entryLog, records, byID)

	answered := len(scored)
	percentage := 0.0
	if totalQuestions > 0 {
		percentage = math.Round(float64(score)/float64(totalQuestions)*100*100) / 100
	}

	startedAt := req.TestStartedAt
	if startedAt == nil && hasDraft {
		startedAt = draft.TestStartedAt
	}

	// Submission-window policy, checked immediately before promotion:
	// the hard close (active_to + extension) and the per-student clock
	// (started_at + duration) must both still be open. Violations are
	// named failures, never silent drops.
	now := time.Now()
	if deadline := exam.SubmissionDeadline(); !deadline.IsZero() && now.After(deadline) {
		return nil, ErrSubmissionWindowClosed
	}
	if startedAt != nil && now.After(startedAt.Add(exam.Duration())) {
		return nil, ErrSubmissionWindowClosed
	}

	rec := &model.FinalRecord{
		SubmissionID:        uuid.New(),
		ExamID:              examID,
		StudentID:           studentID,
		Answers:             scored,
		Score:               score,
		Percentage:          percentage,
		TotalQuestions:      totalQuestions,
		AnsweredQuestions:   answered,
		UnansweredQuestions: totalQuestions - answered,
		TimeSpentSeconds:    req.TimeSpentSeconds,
		TestStartedAt:       startedAt,
		SubmittedAt:         now,
		AutoSubmitted:       req.AutoSubmitted,
	}

	if err := s.store.PromoteToFinal(ctx, key, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyFinal) {
			// Lost the race against a concurrent submit. Expected outcome
			// of the at-most-once guarantee, not a fault.
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("promote to final: %w", err)
	}

	s.queueCleanup(ctx, rec)

	entryLog.Info().
		Str("submission_id", rec.SubmissionID.String()).
		Int("score", score).
		Int("answered", answered).
		Int("total", totalQuestions).
		Bool("auto_submitted", req.AutoSubmitted).
		Msg("Attempt finalized")

	result := &SubmitResult{
		SubmissionID:      rec.SubmissionID,
		AnsweredQuestions: answered,
		TotalQuestions:    totalQuestions,
	}
	if exam.ShowScores {
		result.Score = &rec.Score
		result.Percentage = &rec.Percentage
	}
	return result, nil
}

// collect validates raw payload entries the same way autosave does,
// discarding corrupt ones with a warning instead of failing the request.
func (s *SubmissionService) collect(log zerolog.Logger, in []model.AnswerIn, known map[string]bool) []model.AnswerRecord {
	records := make([]model.AnswerRecord, 0, len(in))
	for _, a := range in {
		qid, idx, ok, reason := parseAnswerEntry(a.QuestionID, a.SelectedIndex, known)
		if !ok {
			logSkippedAnswer(log, a.QuestionID, reason)
			continue
		}
		records = append(records, model.AnswerRecord{
			QuestionID:         qid,
			SelectedIndex:      idx,
			OriginalNumber:     a.OriginalNumber,
			ShuffledPosition:   a.ShuffledPosition,
			ShuffledToOriginal: a.ShuffledToOriginal,
		})
	}
	return records
}

// scoreAnswers de-shuffles each answer and marks correctness against the
// answer key. One scored record per question survives (last entry wins);
// entries that cannot be translated are dropped with a warning.
func (s *SubmissionService) scoreAnswers(log zerolog.Logger, records []model.AnswerRecord, byID map[string]model.Question) ([]model.AnswerRecord, int) {
	byQuestion := make(map[string]model.AnswerRecord, len(records))
	order := make([]string, 0, len(records))

	for _, a := range records {
		q, ok := byID[a.QuestionID.String()]
		if !ok {
			logSkippedAnswer(log, a.QuestionID.String(), "question not in exam")
			continue
		}
		if a.SelectedIndex < 0 || a.SelectedIndex >= shuffle.OptionCount {
			logSkippedAnswer(log, a.QuestionID.String(), "selected index out of range")
			continue
		}

		originalIndex := a.SelectedIndex
		if a.ShuffledToOriginal != nil {
			if !a.ShuffledToOriginal.Valid() {
				logSkippedAnswer(log, a.QuestionID.String(), "mapping not a permutation")
				continue
			}
			deshuffled, err := shuffle.Deshuffle(a.SelectedIndex, *a.ShuffledToOriginal)
			if err != nil {
				logSkippedAnswer(log, a.QuestionID.String(), err.Error())
				continue
			}
			originalIndex = deshuffled
		} else {
			// Legacy/unshuffled data: assume the selection is already in
			// answer-key order. Flagged because nothing verifies that no
			// shuffling actually occurred.
			log.Warn().
				Str("question_id", a.QuestionID.String()).
				Msg("Answer has no shuffle mapping, treating selection as original index")
		}

		correct := originalIndex == q.CorrectIndex
		a.IsCorrect = &correct

		if _, seen := byQuestion[a.QuestionID.String()]; !seen {
			order = append(order, a.QuestionID.String())
		}
		byQuestion[a.QuestionID.String()] = a
	}

	scored := make([]model.AnswerRecord, 0, len(byQuestion))
	score := 0
	for _, id := range order {
		a := byQuestion[id]
		scored = append(scored, a)
		if a.IsCorrect != nil && *a.IsCorrect {
			score++
		}
	}
	return scored, score
}

// queueCleanup hands the finalized attempt to the cleanup worker. Best
// effort: losing a cleanup event leaves a stale cache entry, nothing more.
func (s *SubmissionService) queueCleanup(ctx context.Context, rec *model.FinalRecord) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(finalizedEvent{
		ExamID:       rec.ExamID.String(),
		StudentID:    rec.StudentID,
		SubmissionID: rec.SubmissionID.String(),
	})
	if err != nil {
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.FinalizedAttemptsQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("submission_id", rec.SubmissionID.String()).
			Msg("Failed to queue cleanup event")
	}
}
