package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/repository"
)

// memStore is an in-memory AttemptStore with the same atomicity contract as
// the Postgres implementation: one mutex-guarded mutation per call, and
// promotion wins exactly once.
type memStore struct {
	mu     sync.Mutex
	drafts map[model.AttemptKey]*model.Draft
	finals map[model.AttemptKey]*model.FinalRecord
}

func newMemStore() *memStore {
	return &memStore{
		drafts: make(map[model.AttemptKey]*model.Draft),
		finals: make(map[model.AttemptKey]*model.FinalRecord),
	}
}

func (m *memStore) UpsertDraft(_ context.Context, key model.AttemptKey, patch model.DraftPatch) (*model.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.finals[key]; ok {
		return nil, repository.ErrAlreadyFinal
	}

	now := time.Now()
	d, ok := m.drafts[key]
	if !ok {
		d = &model.Draft{ExamID: key.ExamID, StudentID: key.StudentID}
		m.drafts[key] = d
	}
	d.Answers = patch.Answers
	d.ReviewFlags = patch.ReviewFlags
	d.CurrentQuestionIndex = patch.CurrentQuestionIndex
	d.TimeLeftSeconds = patch.TimeLeftSeconds
	d.TotalQuestions = patch.TotalQuestions
	d.TestStartedAt = patch.TestStartedAt
	d.LastSavedAt = now
	d.LastHeartbeat = now
	d.AutoSaveCount++
	d.CrashDetected = false

	cp := *d
	return &cp, nil
}

func (m *memStore) GetDraft(_ context.Context, key model.AttemptKey) (*model.Draft, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[key]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

func (m *memStore) GetFinal(_ context.Context, key model.AttemptKey) (*model.FinalRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.finals[key]
	if !ok {
		return nil, false, nil
	}
	cp := *f
	return &cp, true, nil
}

func (m *memStore) PromoteToFinal(_ context.Context, key model.AttemptKey, rec *model.FinalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.finals[key]; ok {
		return repository.ErrAlreadyFinal
	}
	cp := *rec
	m.finals[key] = &cp
	delete(m.drafts, key)
	return nil
}

func (m *memStore) DeleteDraft(_ context.Context, key model.AttemptKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, key)
	return nil
}

func (m *memStore) TouchHeartbeat(_ context.Context, key model.AttemptKey) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[key]
	if !ok {
		return time.Time{}, false, nil
	}
	d.LastHeartbeat = time.Now()
	d.CrashDetected = false
	return d.LastHeartbeat, true, nil
}

func (m *memStore) IncrementResumeCount(_ context.Context, key model.AttemptKey) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[key]
	if !ok {
		return 0, false, nil
	}
	d.ResumeCount++
	return d.ResumeCount, true, nil
}

func (m *memStore) ListStaleDrafts(_ context.Context, silence time.Duration) ([]model.StaleAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-silence)
	var stale []model.StaleAttempt
	for key, d := range m.drafts {
		if d.LastHeartbeat.Before(cutoff) {
			stale = append(stale, model.StaleAttempt{
				ExamID:        key.ExamID,
				StudentID:     key.StudentID,
				LastHeartbeat: d.LastHeartbeat,
				LastSavedAt:   d.LastSavedAt,
				CrashDetected: d.CrashDetected,
			})
		}
	}
	return stale, nil
}

func (m *memStore) MarkCrashed(_ context.Context, silence time.Duration) ([]model.AttemptKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-silence)
	var flagged []model.AttemptKey
	for key, d := range m.drafts {
		if d.LastHeartbeat.Before(cutoff) && !d.CrashDetected {
			d.CrashDetected = true
			flagged = append(flagged, key)
		}
	}
	return flagged, nil
}

// memCatalog is an in-memory ExamCatalog.
type memCatalog struct {
	exams     map[uuid.UUID]*model.Exam
	questions map[uuid.UUID][]model.Question
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		exams:     make(map[uuid.UUID]*model.Exam),
		questions: make(map[uuid.UUID][]model.Question),
	}
}

func (m *memCatalog) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, bool, error) {
	e, ok := m.exams[id]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (m *memCatalog) ListQuestions(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return m.questions[examID], nil
}

// addExam seeds an always-open exam with n questions whose correct answer is
// always original index 0, and returns it with its questions.
func (m *memCatalog) addExam(n int, mutate func(*model.Exam)) (*model.Exam, []model.Question) {
	e := &model.Exam{
		ID:               uuid.New(),
		Title:            "Networks 101",
		DurationMinutes:  60,
		IsActive:         true,
		ShowScores:       true,
		ShuffleQuestions: true,
		ShuffleOptions:   true,
		QuestionCount:    n,
	}
	if mutate != nil {
		mutate(e)
	}
	m.exams[e.ID] = e

	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:           uuid.New(),
			ExamID:       e.ID,
			Prompt:       "pick the first option",
			Options:      [4]string{"right", "wrong b", "wrong c", "wrong d"},
			CorrectIndex: 0,
			OrderNum:     i + 1,
		}
	}
	m.questions[e.ID] = qs
	return e, qs
}

// memPapers is an in-memory PaperStore with write-once semantics.
type memPapers struct {
	mu     sync.Mutex
	papers map[model.AttemptKey]*model.Paper
}

func newMemPapers() *memPapers {
	return &memPapers{papers: make(map[model.AttemptKey]*model.Paper)}
}

func (m *memPapers) GetPaper(_ context.Context, key model.AttemptKey) (*model.Paper, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[key]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (m *memPapers) CreatePaper(_ context.Context, paper *model.Paper) (*model.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := model.AttemptKey{ExamID: paper.ExamID, StudentID: paper.StudentID}
	if existing, ok := m.papers[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *paper
	m.papers[key] = &cp
	return paper, nil
}
