package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/rs/zerolog"
)

func TestLoadProgressRoundTrip(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(3, nil)
	store := newMemStore()
	autosave := NewAutosaveService(store, catalog, nil, zerolog.Nop())
	progress := NewProgressService(store, catalog, 15*time.Minute, zerolog.Nop())

	req := &model.AutosaveRequest{
		Answers: []model.AnswerIn{
			{QuestionID: qs[0].ID.String(), SelectedIndex: f64(2), OriginalNumber: 1, ShuffledPosition: 3},
			{QuestionID: qs[1].ID.String(), SelectedIndex: f64(0), OriginalNumber: 2, ShuffledPosition: 1},
		},
		ReviewFlags:          map[string]bool{qs[0].ID.String(): true, qs[1].ID.String(): false},
		CurrentQuestionIndex: 2,
		TimeLeftSeconds:      1800,
		TotalQuestions:       3,
	}
	if _, err := autosave.Save(context.Background(), exam.ID, 7, req); err != nil {
		t.Fatalf("Save: %v", err)
	}

	result, err := progress.LoadProgress(context.Background(), exam.ID, 7)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if !result.HasProgress {
		t.Fatal("HasProgress = false, want true")
	}

	p := result.Progress
	if len(p.Answers) != 3 {
		t.Fatalf("len(Answers) = %d, want 3 positional slots", len(p.Answers))
	}
	// Shuffled position 3 → slot 2, position 1 → slot 0, slot 1 unanswered.
	if p.Answers[2] == nil || p.Answers[2].QuestionID != qs[0].ID {
		t.Fatalf("slot 2 = %+v, want answer for question %s", p.Answers[2], qs[0].ID)
	}
	if p.Answers[0] == nil || p.Answers[0].QuestionID != qs[1].ID {
		t.Fatalf("slot 0 = %+v, want answer for question %s", p.Answers[0], qs[1].ID)
	}
	if p.Answers[1] != nil {
		t.Fatalf("slot 1 = %+v, want nil (unanswered)", p.Answers[1])
	}

	// Only true flags survive.
	if len(p.ReviewFlags) != 1 || !p.ReviewFlags[qs[0].ID.String()] {
		t.Fatalf("ReviewFlags = %v, want only the true flag", p.ReviewFlags)
	}

	if p.CurrentQuestionIndex != 2 || p.TimeLeftSeconds != 1800 {
		t.Fatalf("navigation state = %+v, want index 2 / 1800s left", p)
	}
}

func TestLoadProgressFallsBackToOriginalNumber(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(2, nil)
	store := newMemStore()
	progress := NewProgressService(store, catalog, 0, zerolog.Nop())

	// Legacy draft: no shuffled positions recorded.
	_, err := store.UpsertDraft(context.Background(), model.AttemptKey{ExamID: exam.ID, StudentID: 7}, model.DraftPatch{
		Answers: []model.AnswerRecord{
			{QuestionID: qs[1].ID, SelectedIndex: 1, OriginalNumber: 2},
		},
		TotalQuestions: 2,
	})
	if err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}

	result, err := progress.LoadProgress(context.Background(), exam.ID, 7)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	p := result.Progress
	if p.Answers[1] == nil || p.Answers[1].QuestionID != qs[1].ID {
		t.Fatalf("slot 1 = %+v, want fallback placement by original number", p.Answers[1])
	}
}

func TestLoadProgressNoDraft(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(2, nil)
	progress := NewProgressService(newMemStore(), catalog, 15*time.Minute, zerolog.Nop())

	result, err := progress.LoadProgress(context.Background(), exam.ID, 7)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if result.HasProgress || result.Progress != nil {
		t.Fatalf("result = %+v, want empty no-progress answer", result)
	}
}

func TestLoadProgressStaleDraft(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(2, nil)
	store := newMemStore()
	progress := NewProgressService(store, catalog, 15*time.Minute, zerolog.Nop())

	key := model.AttemptKey{ExamID: exam.ID, StudentID: 7}
	if _, err := store.UpsertDraft(context.Background(), key, model.DraftPatch{TotalQuestions: 2}); err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}
	// Age the draft past the staleness ceiling.
	store.mu.Lock()
	store.drafts[key].LastSavedAt = time.Now().Add(-16 * time.Minute)
	store.mu.Unlock()

	_, err := progress.LoadProgress(context.Background(), exam.ID, 7)
	if !errors.Is(err, ErrProgressTooStale) {
		t.Fatalf("LoadProgress = %v, want ErrProgressTooStale", err)
	}
}

func TestLoadProgressAfterSubmit(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(2, nil)
	store := newMemStore()
	progress := NewProgressService(store, catalog, 15*time.Minute, zerolog.Nop())

	key := model.AttemptKey{ExamID: exam.ID, StudentID: 7}
	if err := store.PromoteToFinal(context.Background(), key, &model.FinalRecord{SubmissionID: uuid.New()}); err != nil {
		t.Fatalf("PromoteToFinal: %v", err)
	}

	_, err := progress.LoadProgress(context.Background(), exam.ID, 7)
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("LoadProgress = %v, want ErrAlreadySubmitted", err)
	}
}

func TestResumeIncrementsOnlyWithDraft(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(2, nil)
	store := newMemStore()
	progress := NewProgressService(store, catalog, 15*time.Minute, zerolog.Nop())

	// No draft yet: resume is a no-op.
	count, err := progress.Resume(context.Background(), exam.ID, 7)
	if err != nil || count != 0 {
		t.Fatalf("Resume without draft = (%d, %v), want (0, nil)", count, err)
	}

	key := model.AttemptKey{ExamID: exam.ID, StudentID: 7}
	if _, err := store.UpsertDraft(context.Background(), key, model.DraftPatch{TotalQuestions: 2}); err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}

	for i := 1; i <= 3; i++ {
		count, err = progress.Resume(context.Background(), exam.ID, 7)
		if err != nil {
			t.Fatalf("Resume #%d: %v", i, err)
		}
		if count != i {
			t.Fatalf("resume_count after #%d = %d, want %d", i, count, i)
		}
	}

	// Passive loads never bump the counter.
	if _, err := progress.LoadProgress(context.Background(), exam.ID, 7); err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	draft, _, _ := store.GetDraft(context.Background(), key)
	if draft.ResumeCount != 3 {
		t.Fatalf("ResumeCount after passive load = %d, want 3", draft.ResumeCount)
	}
}
