package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luminedu/examgate-backend/internal/model"
)

// ExamRepository handles exam catalog data access. The attempt core only
// reads from it; Create exists for the dev seeder.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetExam retrieves an exam by its UUID, reporting whether it exists.
func (r *ExamRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, bool, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, is_active, active_from, active_to,
		        extension_minutes, entry_grace_minutes, show_scores,
		        shuffle_questions, shuffle_options, question_count,
		        created_at, updated_at
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(
		&e.ID, &e.Title, &e.DurationMinutes, &e.IsActive, &e.ActiveFrom,
		&e.ActiveTo, &e.ExtensionMinutes, &e.EntryGraceMinutes, &e.ShowScores,
		&e.ShuffleQuestions, &e.ShuffleOptions, &e.QuestionCount,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get exam: %w", err)
	}
	return e, true, nil
}

// Create inserts a new exam. Used by seeding tooling only.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (
		    title, duration_minutes, is_active, active_from, active_to,
		    extension_minutes, entry_grace_minutes, show_scores,
		    shuffle_questions, shuffle_options, question_count
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.DurationMinutes, e.IsActive, e.ActiveFrom, e.ActiveTo,
		e.ExtensionMinutes, e.EntryGraceMinutes, e.ShowScores,
		e.ShuffleQuestions, e.ShuffleOptions, e.QuestionCount,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// ListQuestions retrieves an exam's questions in their fixed catalog order.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, prompt, options, correct_index, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var rawOptions []byte
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Prompt, &rawOptions, &q.CorrectIndex, &q.OrderNum); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawOptions, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AddQuestion inserts a question into an exam. Used by seeding tooling only.
func (r *ExamRepository) AddQuestion(ctx context.Context, q *model.Question) error {
	optionsJSON, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, prompt, options, correct_index, order_num)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		q.ExamID, q.Prompt, optionsJSON, q.CorrectIndex, q.OrderNum,
	).Scan(&q.ID)
}
