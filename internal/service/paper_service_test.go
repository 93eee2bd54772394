package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/luminedu/examgate-backend/internal/shuffle"
	"github.com/rs/zerolog"
)

func TestGetPaperIsPinnedPerStudent(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(10, nil)
	store := newMemStore()
	svc := NewPaperService(newMemPapers(), store, catalog, nil, zerolog.Nop())

	first, err := svc.GetPaper(context.Background(), exam.ID, 1)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if len(first.Questions) != 10 {
		t.Fatalf("len(Questions) = %d, want 10", len(first.Questions))
	}

	// Every later request returns the identical presentation.
	for i := 0; i < 5; i++ {
		again, err := svc.GetPaper(context.Background(), exam.ID, 1)
		if err != nil {
			t.Fatalf("GetPaper #%d: %v", i, err)
		}
		for j := range first.Questions {
			if again.Questions[j].ID != first.Questions[j].ID {
				t.Fatalf("question order changed between requests at slot %d", j)
			}
			if again.Questions[j].ShuffledToOriginal != first.Questions[j].ShuffledToOriginal {
				t.Fatalf("option mapping changed between requests for question %s", first.Questions[j].ID)
			}
		}
	}
}

func TestGetPaperMappingsMatchPresentedOptions(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(5, nil)
	svc := NewPaperService(newMemPapers(), newMemStore(), catalog, nil, zerolog.Nop())

	byID := make(map[uuid.UUID]model.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}

	paper, err := svc.GetPaper(context.Background(), exam.ID, 1)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}

	for _, pq := range paper.Questions {
		orig := byID[pq.ID]
		if !pq.ShuffledToOriginal.Valid() {
			t.Fatalf("question %s mapping %v not a permutation", pq.ID, pq.ShuffledToOriginal)
		}
		for pos, origIdx := range pq.ShuffledToOriginal {
			if pq.Options[pos] != orig.Options[origIdx] {
				t.Fatalf("question %s option at position %d is %q, mapping says original %d = %q",
					pq.ID, pos, pq.Options[pos], origIdx, orig.Options[origIdx])
			}
		}
	}
}

func TestGetPaperWithoutShuffling(t *testing.T) {
	catalog := newMemCatalog()
	exam, qs := catalog.addExam(4, func(e *model.Exam) {
		e.ShuffleQuestions = false
		e.ShuffleOptions = false
	})
	svc := NewPaperService(newMemPapers(), newMemStore(), catalog, nil, zerolog.Nop())

	paper, err := svc.GetPaper(context.Background(), exam.ID, 1)
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}

	identity := shuffle.Mapping{0, 1, 2, 3}
	for i, pq := range paper.Questions {
		if pq.ID != qs[i].ID {
			t.Fatalf("slot %d holds question %s, want catalog order %s", i, pq.ID, qs[i].ID)
		}
		if pq.ShuffledToOriginal != identity {
			t.Fatalf("mapping = %v, want identity when option shuffling is off", pq.ShuffledToOriginal)
		}
		if pq.OriginalNumber != i+1 || pq.Position != i+1 {
			t.Fatalf("ordinals = %d/%d, want %d/%d", pq.Position, pq.OriginalNumber, i+1, i+1)
		}
	}
}

func TestGetPaperEntryWindow(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Exam)
	}{
		{"inactive exam", func(e *model.Exam) {
			e.IsActive = false
		}},
		{"not yet open", func(e *model.Exam) {
			future := time.Now().Add(time.Hour)
			e.ActiveFrom = &future
		}},
		{"entry grace elapsed", func(e *model.Exam) {
			past := time.Now().Add(-3 * time.Hour)
			closed := time.Now().Add(-time.Hour)
			e.ActiveFrom = &past
			e.ActiveTo = &closed
			e.EntryGraceMinutes = 15
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newMemCatalog()
			exam, _ := catalog.addExam(3, tt.mutate)
			svc := NewPaperService(newMemPapers(), newMemStore(), catalog, nil, zerolog.Nop())

			_, err := svc.GetPaper(context.Background(), exam.ID, 1)
			if !errors.Is(err, ErrExamNotOpen) {
				t.Fatalf("GetPaper = %v, want ErrExamNotOpen", err)
			}
		})
	}
}

func TestGetPaperWithinEntryGrace(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(3, func(e *model.Exam) {
		past := time.Now().Add(-3 * time.Hour)
		closed := time.Now().Add(-5 * time.Minute)
		e.ActiveFrom = &past
		e.ActiveTo = &closed
		e.EntryGraceMinutes = 15
	})
	svc := NewPaperService(newMemPapers(), newMemStore(), catalog, nil, zerolog.Nop())

	if _, err := svc.GetPaper(context.Background(), exam.ID, 1); err != nil {
		t.Fatalf("GetPaper within grace = %v, want success", err)
	}
}

func TestGetPaperAfterSubmitRejected(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(3, nil)
	store := newMemStore()
	svc := NewPaperService(newMemPapers(), store, catalog, nil, zerolog.Nop())

	key := model.AttemptKey{ExamID: exam.ID, StudentID: 1}
	if err := store.PromoteToFinal(context.Background(), key, &model.FinalRecord{SubmissionID: uuid.New()}); err != nil {
		t.Fatalf("PromoteToFinal: %v", err)
	}

	_, err := svc.GetPaper(context.Background(), exam.ID, 1)
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("GetPaper = %v, want ErrAlreadySubmitted", err)
	}
}

func TestGetPaperUnknownExam(t *testing.T) {
	svc := NewPaperService(newMemPapers(), newMemStore(), newMemCatalog(), nil, zerolog.Nop())

	_, err := svc.GetPaper(context.Background(), uuid.New(), 1)
	if !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("GetPaper = %v, want ErrExamNotFound", err)
	}
}
