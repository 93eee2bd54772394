package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luminedu/examgate-backend/internal/model"
)

// AttemptRepository is the PostgreSQL-backed AttemptStore. One row per
// (exam_id, student_id); the status column flips the row between its draft
// and final phase, so the draft→final transition is a single row mutation
// and the two phases can never coexist.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// UpsertDraft writes one autosave snapshot as a single conditional upsert.
// The WHERE guard keeps a finalized row untouched; the counter bump happens
// inside the statement so concurrent autosaves never lose increments.
func (r *AttemptRepository) UpsertDraft(ctx context.Context, key model.AttemptKey, patch model.DraftPatch) (*model.Draft, error) {
	answersJSON, err := json.Marshal(orEmptyAnswers(patch.Answers))
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	flagsJSON, err := json.Marshal(orEmptyFlags(patch.ReviewFlags))
	if err != nil {
		return nil, fmt.Errorf("marshal review flags: %w", err)
	}

	d := &model.Draft{ExamID: key.ExamID, StudentID: key.StudentID}
	var rawAnswers, rawFlags []byte

	err = r.pool.QueryRow(ctx,
		`INSERT INTO attempts (
		    exam_id, student_id, status, answers, review_flags,
		    current_question_index, time_left_seconds, total_questions,
		    test_started_at, last_saved_at, last_heartbeat, auto_save_count
		 ) VALUES ($1, $2, 'DRAFT', $3, $4, $5, $6, $7, $8, NOW(), NOW(), 1)
		 ON CONFLICT (exam_id, student_id) DO UPDATE SET
		    answers                = EXCLUDED.answers,
		    review_flags           = EXCLUDED.review_flags,
		    current_question_index = EXCLUDED.current_question_index,
		    time_left_seconds      = EXCLUDED.time_left_seconds,
		    total_questions        = EXCLUDED.total_questions,
		    test_started_at        = COALESCE(attempts.test_started_at, EXCLUDED.test_started_at),
		    last_saved_at          = NOW(),
		    last_heartbeat         = NOW(),
		    auto_save_count        = attempts.auto_save_count + 1,
		    crash_detected         = FALSE
		 WHERE attempts.status = 'DRAFT'
		 RETURNING answers, review_flags, current_question_index, time_left_seconds,
		           total_questions, test_started_at, last_saved_at, last_heartbeat,
		           auto_save_count, resume_count, crash_detected`,
		key.ExamID, key.StudentID, answersJSON, flagsJSON,
		patch.CurrentQuestionIndex, patch.TimeLeftSeconds, patch.TotalQuestions,
		patch.TestStartedAt,
	).Scan(
		&rawAnswers, &rawFlags, &d.CurrentQuestionIndex, &d.TimeLeftSeconds,
		&d.TotalQuestions, &d.TestStartedAt, &d.LastSavedAt, &d.LastHeartbeat,
		&d.AutoSaveCount, &d.ResumeCount, &d.CrashDetected,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conflict row exists but is FINAL: the WHERE guard refused it.
			return nil, ErrAlreadyFinal
		}
		return nil, fmt.Errorf("upsert draft: %w", err)
	}

	if err := unmarshalAttemptDocs(rawAnswers, rawFlags, &d.Answers, &d.ReviewFlags); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDraft loads the draft phase of an attempt, if one exists.
func (r *AttemptRepository) GetDraft(ctx context.Context, key model.AttemptKey) (*model.Draft, bool, error) {
	d := &model.Draft{ExamID: key.ExamID, StudentID: key.StudentID}
	var rawAnswers, rawFlags []byte

	err := r.pool.QueryRow(ctx,
		`SELECT answers, review_flags, current_question_index, time_left_seconds,
		        total_questions, test_started_at, last_saved_at, last_heartbeat,
		        auto_save_count, resume_count, crash_detected
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'DRAFT'`,
		key.ExamID, key.StudentID,
	).Scan(
		&rawAnswers, &rawFlags, &d.CurrentQuestionIndex, &d.TimeLeftSeconds,
		&d.TotalQuestions, &d.TestStartedAt, &d.LastSavedAt, &d.LastHeartbeat,
		&d.AutoSaveCount, &d.ResumeCount, &d.CrashDetected,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get draft: %w", err)
	}

	if err := unmarshalAttemptDocs(rawAnswers, rawFlags, &d.Answers, &d.ReviewFlags); err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// GetFinal loads the final record of an attempt, if one exists.
func (r *AttemptRepository) GetFinal(ctx context.Context, key model.AttemptKey) (*model.FinalRecord, bool, error) {
	rec := &model.FinalRecord{ExamID: key.ExamID, StudentID: key.StudentID}
	var rawAnswers []byte

	err := r.pool.QueryRow(ctx,
		`SELECT submission_id, answers, score, percentage, total_questions,
		        answered_questions, unanswered_questions, time_spent_seconds,
		        test_started_at, submitted_at, auto_submitted
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'FINAL'`,
		key.ExamID, key.StudentID,
	).Scan(
		&rec.SubmissionID, &rawAnswers, &rec.Score, &rec.Percentage,
		&rec.TotalQuestions, &rec.AnsweredQuestions, &rec.UnansweredQuestions,
		&rec.TimeSpentSeconds, &rec.TestStartedAt, &rec.SubmittedAt, &rec.AutoSubmitted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get final: %w", err)
	}

	if err := json.Unmarshal(rawAnswers, &rec.Answers); err != nil {
		return nil, false, fmt.Errorf("unmarshal answers: %w", err)
	}
	return rec, true, nil
}

// PromoteToFinal flips the row to FINAL in one statement. The WHERE guard is
// the compare-and-swap: of two racing submissions, the loser finds the row
// already FINAL, gets no row back, and observes ErrAlreadyFinal.
func (r *AttemptRepository) PromoteToFinal(ctx context.Context, key model.AttemptKey, rec *model.FinalRecord) error {
	answersJSON, err := json.Marshal(orEmptyAnswers(rec.Answers))
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	var promotedID uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO attempts (
		    exam_id, student_id, status, answers, total_questions,
		    submission_id, score, percentage, answered_questions,
		    unanswered_questions, time_spent_seconds, submitted_at,
		    auto_submitted, test_started_at, last_saved_at, last_heartbeat
		 ) VALUES ($1, $2, 'FINAL', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		 ON CONFLICT (exam_id, student_id) DO UPDATE SET
		    status               = 'FINAL',
		    answers              = EXCLUDED.answers,
		    total_questions      = EXCLUDED.total_questions,
		    submission_id        = EXCLUDED.submission_id,
		    score                = EXCLUDED.score,
		    percentage           = EXCLUDED.percentage,
		    answered_questions   = EXCLUDED.answered_questions,
		    unanswered_questions = EXCLUDED.unanswered_questions,
		    time_spent_seconds   = EXCLUDED.time_spent_seconds,
		    submitted_at         = EXCLUDED.submitted_at,
		    auto_submitted       = EXCLUDED.auto_submitted
		 WHERE attempts.status = 'DRAFT'
		 RETURNING submission_id`,
		key.ExamID, key.StudentID, answersJSON, rec.TotalQuestions,
		rec.SubmissionID, rec.Score, rec.Percentage, rec.AnsweredQuestions,
		rec.UnansweredQuestions, rec.TimeSpentSeconds, rec.SubmittedAt,
		rec.AutoSubmitted, rec.TestStartedAt,
	).Scan(&promotedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyFinal
		}
		return fmt.Errorf("promote to final: %w", err)
	}
	return nil
}

// DeleteDraft removes the draft if present; a final row is never deleted.
func (r *AttemptRepository) DeleteDraft(ctx context.Context, key model.AttemptKey) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'DRAFT'`,
		key.ExamID, key.StudentID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// TouchHeartbeat records liveness on an in-progress draft. Final attempts do
// not accept heartbeats, so absence of a draft is a no-op, not an error.
func (r *AttemptRepository) TouchHeartbeat(ctx context.Context, key model.AttemptKey) (time.Time, bool, error) {
	var ts time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET last_heartbeat = NOW(), crash_detected = FALSE
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'DRAFT'
		 RETURNING last_heartbeat`,
		key.ExamID, key.StudentID,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("touch heartbeat: %w", err)
	}
	return ts, true, nil
}

// IncrementResumeCount bumps resume_count in place. Only the explicit
// resume action calls this — passive progress polling never does.
func (r *AttemptRepository) IncrementResumeCount(ctx context.Context, key model.AttemptKey) (int, bool, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET resume_count = resume_count + 1
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'DRAFT'
		 RETURNING resume_count`,
		key.ExamID, key.StudentID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("increment resume count: %w", err)
	}
	return count, true, nil
}

// ListStaleDrafts returns drafts silent for longer than the threshold,
// oldest heartbeat first.
func (r *AttemptRepository) ListStaleDrafts(ctx context.Context, silence time.Duration) ([]model.StaleAttempt, error) {
	cutoff := time.Now().Add(-silence)

	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, student_id, last_heartbeat, last_saved_at, crash_detected
		 FROM attempts
		 WHERE status = 'DRAFT' AND last_heartbeat < $1
		 ORDER BY last_heartbeat ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale drafts: %w", err)
	}
	defer rows.Close()

	var stale []model.StaleAttempt
	for rows.Next() {
		var s model.StaleAttempt
		if err := rows.Scan(&s.ExamID, &s.StudentID, &s.LastHeartbeat, &s.LastSavedAt, &s.CrashDetected); err != nil {
			return nil, err
		}
		stale = append(stale, s)
	}
	return stale, rows.Err()
}

// MarkCrashed flags every silent, not-yet-flagged draft and reports which
// keys were flagged.
func (r *AttemptRepository) MarkCrashed(ctx context.Context, silence time.Duration) ([]model.AttemptKey, error) {
	cutoff := time.Now().Add(-silence)

	rows, err := r.pool.Query(ctx,
		`UPDATE attempts
		 SET crash_detected = TRUE
		 WHERE status = 'DRAFT' AND crash_detected = FALSE AND last_heartbeat < $1
		 RETURNING exam_id, student_id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("mark crashed: %w", err)
	}
	defer rows.Close()

	var keys []model.AttemptKey
	for rows.Next() {
		var k model.AttemptKey
		if err := rows.Scan(&k.ExamID, &k.StudentID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ─── helpers ───────────────────────────────────────────────────────────────

func orEmptyAnswers(a []model.AnswerRecord) []model.AnswerRecord {
	if a == nil {
		return []model.AnswerRecord{}
	}
	return a
}

func orEmptyFlags(f map[string]bool) map[string]bool {
	if f == nil {
		return map[string]bool{}
	}
	return f
}

func unmarshalAttemptDocs(rawAnswers, rawFlags []byte, answers *[]model.AnswerRecord, flags *map[string]bool) error {
	if err := json.Unmarshal(rawAnswers, answers); err != nil {
		return fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal(rawFlags, flags); err != nil {
		return fmt.Errorf("unmarshal review flags: %w", err)
	}
	return nil
}
