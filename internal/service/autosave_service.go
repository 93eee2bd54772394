package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AutosaveService accepts periodic progress snapshots from the client and
// writes each one as a single atomic draft upsert. No scoring happens here:
// correctness is never computed before finalization, so a crash mid-test
// cannot leak it, and the stored shuffle mapping stays the single source of
// truth for later scoring.
type AutosaveService struct {
	store   repository.AttemptStore
	catalog repository.ExamCatalog
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewAutosaveService creates a new AutosaveService. rdb may be nil; the
// question-set cache then falls back to the catalog on every call.
func NewAutosaveService(store repository.AttemptStore, catalog repository.ExamCatalog, rdb *redis.Client, log zerolog.Logger) *AutosaveService {
	return &AutosaveService{
		store:   store,
		catalog: catalog,
		rdb:     rdb,
		log:     log.With().Str("component", "autosave_service").Logger(),
	}
}

// AutosaveResult reports what one autosave call actually persisted.
type AutosaveResult struct {
	AnswersCount  int       `json:"answers_count"`
	LastSavedAt   time.Time `json:"last_saved_at"`
	AutoSaveCount int       `json:"auto_save_count"`
}

// Save persists one progress snapshot. Invalid answer entries are dropped
// individually; the draft write itself is one atomic upsert that also
// synchronizes the heartbeat, so a successful save can never be followed by
// an immediate spurious crash flag.
func (s *AutosaveService) Save(ctx context.Context, examID uuid.UUID, studentID int, req *model.AutosaveRequest) (*AutosaveResult, error) {
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

	known, err := s.questionSet(ctx, examID)
	if err != nil {
		return nil, err
	}

	answers := s.sanitize(examID, studentID, req.Answers, known)

	draft, err := s.store.UpsertDraft(ctx, key, model.DraftPatch{
		Answers:              answers,
		ReviewFlags:          req.ReviewFlags,
		CurrentQuestionIndex: req.CurrentQuestionIndex,
		TimeLeftSeconds:      req.TimeLeftSeconds,
		TotalQuestions:       req.TotalQuestions,
		TestStartedAt:        req.TestStartedAt,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyFinal) {
			// A submit slipped in between the final check and the upsert.
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("upsert draft: %w", err)
	}

	return &AutosaveResult{
		AnswersCount:  len(answers),
		LastSavedAt:   draft.LastSavedAt,
		AutoSaveCount: draft.AutoSaveCount,
	}, nil
}

// sanitize drops malformed entries and entries referencing foreign questions,
// keeping the valid remainder exactly as the client reported it.
func (s *AutosaveService) sanitize(examID uuid.UUID, studentID int, in []model.AnswerIn, known map[string]bool) []model.AnswerRecord {
	answers := make([]model.AnswerRecord, 0, len(in))
	entryLog := s.log.With().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Logger()

	for _, a := range in {
		qid, idx, ok, reason := parseAnswerEntry(a.QuestionID, a.SelectedIndex, known)
		if !ok {
			logSkippedAnswer(entryLog, a.QuestionID, reason)
			continue
		}
		if a.ShuffledToOriginal != nil && !a.ShuffledToOriginal.Valid() {
			logSkippedAnswer(entryLog, a.QuestionID, "mapping not a permutation")
			continue
		}
		answers = append(answers, model.AnswerRecord{
			QuestionID:         qid,
			SelectedIndex:      idx,
			OriginalNumber:     a.OriginalNumber,
			ShuffledPosition:   a.ShuffledPosition,
			ShuffledToOriginal: a.ShuffledToOriginal,
		})
	}
	return answers
}

// questionSet returns the set of question ids belonging to an exam, cached
// in Redis so the hot autosave path does not hit the catalog every time.
func (s *AutosaveService) questionSet(ctx context.Context, examID uuid.UUID) (map[string]bool, error) {
	cacheKey := config.CacheKey.ExamQuestionSetKey(examID.String())

	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, cacheKey).Result()
		if err == nil {
			var ids []string
			if err := json.Unmarshal([]byte(raw), &ids); err == nil {
				set := make(map[string]bool, len(ids))
				for _, id := range ids {
					set[id] = true
				}
				return set, nil
			}
		}
	}

	questions, err := s.catalog.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	set := make(map[string]bool, len(questions))
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		set[q.ID.String()] = true
		ids = append(ids, q.ID.String())
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(ids); err == nil {
			// Best effort — a cold cache only costs a catalog round trip.
			_ = s.rdb.Set(ctx, cacheKey, raw, time.Hour).Err()
		}
	}

	return set, nil
}
