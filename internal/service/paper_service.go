package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
	"github.com/luminedu/examgate-backend/internal/shuffle"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const paperCacheTTL = 4 * time.Hour

// PaperService hands each student their randomized exam paper. Generation is
// write-once: the first request for a (exam, student) pair rolls the dice,
// every later request — including after a crash — gets back the exact same
// presentation, so answers keep translating to the same answer-key indices.
type PaperService struct {
	papers  repository.PaperStore
	store   repository.AttemptStore
	catalog repository.ExamCatalog
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewPaperService creates a new PaperService. rdb may be nil; papers are then
// served from Postgres on every request.
func NewPaperService(papers repository.PaperStore, store repository.AttemptStore, catalog repository.ExamCatalog, rdb *redis.Client, log zerolog.Logger) *PaperService {
	return &PaperService{
		papers:  papers,
		store:   store,
		catalog: catalog,
		rdb:     rdb,
		log:     log.With().Str("component", "paper_service").Logger(),
	}
}

// GetPaper returns the student's paper for the exam, generating and pinning
// it on first access.
func (s *PaperService) GetPaper(ctx context.Context, examID uuid.UUID, studentID int) (*model.PaperView, error) {
	exam, found, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !found {
		return nil, ErrExamNotFound
	}

	if err := s.checkEntryWindow(exam); err != nil {
		return nil, err
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
	if len(questions) == 0 {
		return nil, ErrExamNotOpen
	}

	paper, err := s.loadOrCreatePaper(ctx, exam, key, questions)
	if err != nil {
		return nil, err
	}

	return s.buildView(exam, paper, questions)
}

// checkEntryWindow enforces the joining policy: the exam must be active and
// the entry grace period past active_to must not have elapsed. Students who
// entered in time may keep working past this point; that is the submission
// window's concern, not the entry window's.
func (s *PaperService) checkEntryWindow(exam *model.Exam) error {
	if !exam.IsActive {
		return ErrExamNotOpen
	}
	now := time.Now()
	if exam.ActiveFrom != nil && now.Before(*exam.ActiveFrom) {
		return ErrExamNotOpen
	}
	if deadline := exam.EntryDeadline(); !deadline.IsZero() && now.After(deadline) {
		return ErrExamNotOpen
	}
	return nil
}

// loadOrCreatePaper resolves the pinned paper: Redis cache first, then
// Postgres, and only when neither holds one does it generate. The store's
// write-once insert decides races between first-access requests; the loser
// adopts the winner's paper.
func (s *PaperService) loadOrCreatePaper(ctx context.Context, exam *model.Exam, key model.AttemptKey, questions []model.Question) (*model.Paper, error) {
	cacheKey := config.CacheKey.StudentPaperKey(key.ExamID.String(), key.StudentID)

	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached model.Paper
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
			s.log.Warn().Str("cache_key", cacheKey).Msg("Corrupt cached paper, falling back to database")
		}
	}

	paper, found, err := s.papers.GetPaper(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	if !found {
		generated := s.generatePaper(exam, key, questions)
		paper, err = s.papers.CreatePaper(ctx, generated)
		if err != nil {
			return nil, fmt.Errorf("create paper: %w", err)
		}
	}

	s.cachePaper(ctx, cacheKey, paper)
	return paper, nil
}

func (s *PaperService) generatePaper(exam *model.Exam, key model.AttemptKey, questions []model.Question) *model.Paper {
	order := make([]uuid.UUID, len(questions))
	if exam.ShuffleQuestions {
		for pos, orig := range shuffle.Perm(len(questions)) {
			order[pos] = questions[orig].ID
		}
	} else {
		for i, q := range questions {
			order[i] = q.ID
		}
	}

	mappings := make(map[string]shuffle.Mapping, len(questions))
	for _, q := range questions {
		if exam.ShuffleOptions {
			_, mapping := shuffle.Options(q.Options)
			mappings[q.ID.String()] = mapping
		} else {
			mappings[q.ID.String()] = shuffle.Mapping{0, 1, 2, 3}
		}
	}

	return &model.Paper{
		ExamID:         key.ExamID,
		StudentID:      key.StudentID,
		QuestionOrder:  order,
		OptionMappings: mappings,
		CreatedAt:      time.Now(),
	}
}

func (s *PaperService) cachePaper(ctx context.Context, cacheKey string, paper *model.Paper) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(paper)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey, raw, paperCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("cache_key", cacheKey).Msg("Failed to cache paper")
	}
}

// buildView materializes the stored paper against the current catalog. A
// question deleted since generation is skipped with a warning rather than
// failing the whole paper.
func (s *PaperService) buildView(exam *model.Exam, paper *model.Paper, questions []model.Question) (*model.PaperView, error) {
	byID := make(map[string]model.Question, len(questions))
	originalNumber := make(map[string]int, len(questions))
	for i, q := range questions {
		byID[q.ID.String()] = q
		originalNumber[q.ID.String()] = i + 1
	}

	view := &model.PaperView{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       make([]model.PaperQuestion, 0, len(paper.QuestionOrder)),
	}

	for _, qid := range paper.QuestionOrder {
		q, ok := byID[qid.String()]
		if !ok {
			s.log.Warn().
				Str("exam_id", exam.ID.String()).
				Str("question_id", qid.String()).
				Msg("Paper references question no longer in catalog, skipping")
			continue
		}

		mapping, ok := paper.OptionMappings[qid.String()]
		if !ok || !mapping.Valid() {
			mapping = shuffle.Mapping{0, 1, 2, 3}
		}
		var opts [shuffle.OptionCount]string
		for pos, orig := range mapping {
			opts[pos] = q.Options[orig]
		}

		view.Questions = append(view.Questions, model.PaperQuestion{
			ID:                 q.ID,
			Prompt:             q.Prompt,
			Options:            opts,
			Position:           len(view.Questions) + 1,
			OriginalNumber:     originalNumber[qid.String()],
			ShuffledToOriginal: mapping,
		})
	}

	if len(view.Questions) == 0 {
		return nil, fmt.Errorf("paper for exam %s has no presentable questions", exam.ID)
	}
	return view, nil
}
