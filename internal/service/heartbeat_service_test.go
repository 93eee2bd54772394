package service

import (
	"context"
	"testing"
	"time"

	"github.com/luminedu/examgate-backend/internal/model"
	"github.com/rs/zerolog"
)

func TestHeartbeatClearsCrashFlag(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(2, nil)
	store := newMemStore()
	svc := NewHeartbeatService(store, zerolog.Nop())

	key := model.AttemptKey{ExamID: exam.ID, StudentID: 9}
	if _, err := store.UpsertDraft(context.Background(), key, model.DraftPatch{TotalQuestions: 2}); err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}

	// Silence the draft and let the sweep flag it.
	store.mu.Lock()
	store.drafts[key].LastHeartbeat = time.Now().Add(-5 * time.Minute)
	store.mu.Unlock()

	flagged, err := svc.FlagCrashed(context.Background(), 90*time.Second)
	if err != nil {
		t.Fatalf("FlagCrashed: %v", err)
	}
	if len(flagged) != 1 || flagged[0] != key {
		t.Fatalf("flagged = %v, want [%v]", flagged, key)
	}

	// A second sweep must not re-flag the same attempt.
	flagged, err = svc.FlagCrashed(context.Background(), 90*time.Second)
	if err != nil {
		t.Fatalf("FlagCrashed again: %v", err)
	}
	if len(flagged) != 0 {
		t.Fatalf("second sweep flagged %v, want none", flagged)
	}

	// The next heartbeat clears the flag.
	if _, err := svc.Record(context.Background(), exam.ID, 9); err != nil {
		t.Fatalf("Record: %v", err)
	}
	draft, _, _ := store.GetDraft(context.Background(), key)
	if draft.CrashDetected {
		t.Fatal("CrashDetected still set after heartbeat")
	}

	stale, err := svc.ListStale(context.Background(), 90*time.Second)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale after heartbeat = %v, want none", stale)
	}
}

func TestHeartbeatWithoutDraftIsNoop(t *testing.T) {
	catalog := newMemCatalog()
	exam, _ := catalog.addExam(2, nil)
	store := newMemStore()
	svc := NewHeartbeatService(store, zerolog.Nop())

	ts, err := svc.Record(context.Background(), exam.ID, 9)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ts.IsZero() {
		t.Fatal("Record returned zero time for missing draft")
	}
	if _, found, _ := store.GetDraft(context.Background(), model.AttemptKey{ExamID: exam.ID, StudentID: 9}); found {
		t.Fatal("heartbeat created a draft, want no-op")
	}
}
