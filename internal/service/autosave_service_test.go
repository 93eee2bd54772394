package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/shuffle"
	"github.com/rs/zerolog"
)

func f64(v float64) *float64 { return &v }

func TestAutosaveCountsEveryCall(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(3, nil)
	store := newMemStore()
	svc := NewAutosaveService(store, catalog, nil, zerolog.Nop())

	req := &model.AutosaveRequest{
		Answers: []model.AnswerIn{
			{QuestionID: qs[0].ID.String(), SelectedIndex: f64(1), OriginalNumber: 1},
		},
		TotalQuestions: 3,
	}

	for i := 1; i <= 5; i++ {
		result, err := svc.Save(context.Background(), exam.ID, 42, req)
		if err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
		if result.AutoSaveCount != i {
			t.Fatalf("AutoSaveCount after save #%d = %d, want %d", i, result.AutoSaveCount, i)
		}
	}
}

func TestAutosaveLastWriteWins(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(3, nil)
	store := newMemStore()
	svc := NewAutosaveService(store, catalog, nil, zerolog.Nop())

	first := &model.AutosaveRequest{
		Answers: []model.AnswerIn{
			{QuestionID: qs[0].ID.String(), SelectedIndex: f64(0), OriginalNumber: 1},
			{QuestionID: qs[1].ID.String(), SelectedIndex: f64(2), OriginalNumber: 2},
		},
		CurrentQuestionIndex: 1,
		TotalQuestions:       3,
	}
	second := &model.AutosaveRequest{
		Answers: []model.AnswerIn{
			{QuestionID: qs[2].ID.String(), SelectedIndex: f64(3), OriginalNumber: 3},
		},
		CurrentQuestionIndex: 2,
		TimeLeftSeconds:      1200,
		TotalQuestions:       3,
	}

	if _, err := svc.Save(context.Background(), exam.ID, 42, first); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if _, err := svc.Save(context.Background(), exam.ID, 42, second); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	draft, found, err := store.GetDraft(context.Background(), model.AttemptKey{ExamID: exam.ID, StudentID: 42})
	if err != nil || !found {
		t.Fatalf("GetDraft: found=%t err=%v", found, err)
	}
	if len(draft.Answers) != 1 || draft.Answers[0].QuestionID != qs[2].ID {
		t.Fatalf("draft answers = %+v, want only the second snapshot", draft.Answers)
	}
	if draft.TimeLeftSeconds != 1200 || draft.CurrentQuestionIndex != 2 {
		t.Fatalf("draft navigation state not overwritten: %+v", draft)
	}
	if draft.AutoSaveCount != 2 {
		t.Fatalf("AutoSaveCount = %d, want 2", draft.AutoSaveCount)
	}
}

func TestAutosaveDropsInvalidEntries(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(3, nil)
	store := newMemStore()
	svc := NewAutosaveService(store, catalog, nil, zerolog.Nop())

	badMapping := shuffle.Mapping{0, 0, 2, 3}
	req := &model.AutosaveRequest{
		Answers: []model.AnswerIn{
			{QuestionID: qs[0].ID.String(), SelectedIndex: f64(1), OriginalNumber: 1},
			{QuestionID: "not-a-uuid", SelectedIndex: f64(1)},
			{QuestionID: uuid.New().String(), SelectedIndex: f64(1)},
			{QuestionID: qs[1].ID.String(), SelectedIndex: nil},
			{QuestionID: qs[1].ID.String(), SelectedIndex: f64(1.5)},
			{QuestionID: qs[1].ID.String(), SelectedIndex: f64(7)},
			{QuestionID: qs[2].ID.String(), SelectedIndex: f64(2), ShuffledToOriginal: &badMapping},
		},
		TotalQuestions: 3,
	}

	result, err := svc.Save(context.Background(), exam.ID, 42, req)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if result.AnswersCount != 1 {
		t.Fatalf("AnswersCount = %d, want 1 (only the valid entry)", result.AnswersCount)
	}
}

func TestAutosaveAfterSubmitRejected(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(3, nil)
	store := newMemStore()
	svc := NewAutosaveService(store, catalog, nil, zerolog.Nop())

	key := model.AttemptKey{ExamID: exam.ID, StudentID: 42}
	if err := store.PromoteToFinal(context.Background(), key, &model.FinalRecord{
		SubmissionID: uuid.New(),
		ExamID:       exam.ID,
		StudentID:    42,
	}); err != nil {
		t.Fatalf("PromoteToFinal: %v", err)
	}

	_, err := svc.Save(context.Background(), exam.ID, 42, &model.AutosaveRequest{TotalQuestions: 3})
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("Save after final = %v, want ErrAlreadySubmitted", err)
	}
}

func TestAutosaveUnknownExam(t *testing.T) {
	svc := NewAutosaveService(newMemStore(), newMemCatalog(), nil, zerolog.Nop())

	_, err := svc.Save(context.Background(), uuid.New(), 42, &model.AutosaveRequest{TotalQuestions: 1})
	if !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("Save = %v, want ErrExamNotFound", err)
	}
}
