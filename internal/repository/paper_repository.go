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
	"github.com/luminedu/examgate-backend/internal/shuffle"
)

// PaperRepository persists per-student shuffle papers. Rows are write-once:
// once a paper has been handed to a client it must never be regenerated.
type PaperRepository struct {
	pool *pgxpool.Pool
}

// NewPaperRepository creates a new PaperRepository.
func NewPaperRepository(pool *pgxpool.Pool) *PaperRepository {
	return &PaperRepository{pool: pool}
}

// GetPaper loads the stored paper for an attempt key, if one exists.
func (r *PaperRepository) GetPaper(ctx context.Context, key model.AttemptKey) (*model.Paper, bool, error) {
	p := &model.Paper{ExamID: key.ExamID, StudentID: key.StudentID}
	var rawOrder, rawMappings []byte

	err := r.pool.QueryRow(ctx,
		`SELECT question_order, option_mappings, created_at, consumed_at
		 FROM exam_papers
		 WHERE exam_id = $1 AND student_id = $2`,
		key.ExamID, key.StudentID,
	).Scan(&rawOrder, &rawMappings, &p.CreatedAt, &p.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get paper: %w", err)
	}

	if err := unmarshalPaperDocs(rawOrder, rawMappings, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// CreatePaper stores a freshly generated paper. ON CONFLICT DO NOTHING makes
// the write idempotent under concurrent generation; whichever row landed
// first is read back and returned, so every caller presents the same paper.
func (r *PaperRepository) CreatePaper(ctx context.Context, paper *model.Paper) (*model.Paper, error) {
	orderJSON, err := json.Marshal(paper.QuestionOrder)
	if err != nil {
		return nil, fmt.Errorf("marshal question order: %w", err)
	}
	mappingsJSON, err := json.Marshal(paper.OptionMappings)
	if err != nil {
		return nil, fmt.Errorf("marshal option mappings: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO exam_papers (exam_id, student_id, question_order, option_mappings)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING created_at`,
		paper.ExamID, paper.StudentID, orderJSON, mappingsJSON,
	).Scan(&paper.CreatedAt)
	if err == nil {
		return paper, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create paper: %w", err)
	}

	// Lost the race: another request stored a paper first. Serve the winner.
	winner, found, err := r.GetPaper(ctx, model.AttemptKey{ExamID: paper.ExamID, StudentID: paper.StudentID})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("paper insert conflicted but no stored paper found")
	}
	return winner, nil
}

// MarkConsumed stamps papers of finalized attempts, in bulk. Used by the
// cleanup worker after submissions settle.
func (r *PaperRepository) MarkConsumed(ctx context.Context, keys []model.AttemptKey) error {
	if len(keys) == 0 {
		return nil
	}

	examIDs := make([]uuid.UUID, 0, len(keys))
	studentIDs := make([]int, 0, len(keys))
	for _, k := range keys {
		examIDs = append(examIDs, k.ExamID)
		studentIDs = append(studentIDs, k.StudentID)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE exam_papers AS p
		 SET consumed_at = $3
		 FROM (
		 	SELECT u.exam_id, u.student_id
		 	FROM UNNEST($1::uuid[], $2::int[]) AS u (exam_id, student_id)
		 ) AS t
		 WHERE p.exam_id = t.exam_id
		   AND p.student_id = t.student_id
		   AND p.consumed_at IS NULL`,
		examIDs, studentIDs, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("mark papers consumed: %w", err)
	}
	return nil
}

func unmarshalPaperDocs(rawOrder, rawMappings []byte, p *model.Paper) error {
	if err := json.Unmarshal(rawOrder, &p.QuestionOrder); err != nil {
		return fmt.Errorf("unmarshal question order: %w", err)
	}
	if p.OptionMappings == nil {
		p.OptionMappings = make(map[string]shuffle.Mapping)
	}
	if err := json.Unmarshal(rawMappings, &p.OptionMappings); err != nil {
		return fmt.Errorf("unmarshal option mappings: %w", err)
	}
	return nil
}
