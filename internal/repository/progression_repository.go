package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/elearning-api/internal/models"
)

const progressionColumns = `id, learner_id, course_id, percent, started_at, completed_at, updated_at`

// ProgressionRepository handles persistence of learner progressions.
type ProgressionRepository struct {
	db *sqlx.DB
}

// NewProgressionRepository constructs the repository.
func NewProgressionRepository(db *sqlx.DB) *ProgressionRepository {
	return &ProgressionRepository{db: db}
}

// ProgressAggregate summarises a learner's progressions.
type ProgressAggregate struct {
	Courses   int     `db:"courses"`
	Completed int     `db:"completed"`
	Average   float64 `db:"average"`
}

// PercentUpdate is the outcome of ApplyPercent.
type PercentUpdate struct {
	Progression *models.Progression
	// JustCompleted is true only for the update that stamped completed_at.
	JustCompleted bool
}

// Initialize inserts a 0% progression for the pair unless one exists, then returns the stored row.
func (r *ProgressionRepository) Initialize(ctx context.Context, learnerID, courseID string) (*models.Progression, error) {
	now := time.Now().UTC()
	progression := &models.Progression{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		CourseID:  courseID,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := initializeProgressionTx(ctx, r.db, progression); err != nil {
		return nil, err
	}
	return r.FindByLearnerAndCourse(ctx, learnerID, courseID)
}

// FindByLearnerAndCourse returns the progression for the pair.
func (r *ProgressionRepository) FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Progression, error) {
	query := `SELECT ` + progressionColumns + ` FROM progressions WHERE learner_id = $1 AND course_id = $2`
	var progression models.Progression
	if err := r.db.GetContext(ctx, &progression, query, learnerID, courseID); err != nil {
		return nil, err
	}
	return &progression, nil
}

// ListByLearner returns all progressions of a learner.
func (r *ProgressionRepository) ListByLearner(ctx context.Context, learnerID string) ([]models.Progression, error) {
	query := `SELECT ` + progressionColumns + ` FROM progressions WHERE learner_id = $1 ORDER BY started_at DESC`
	var progressions []models.Progression
	if err := r.db.SelectContext(ctx, &progressions, query, learnerID); err != nil {
		return nil, fmt.Errorf("list learner progressions: %w", err)
	}
	return progressions, nil
}

// List returns progressions matching the filter with total count.
func (r *ProgressionRepository) List(ctx context.Context, filter models.ProgressionFilter) ([]models.Progression, int, error) {
	var conditions []string
	var args []interface{}
	if filter.LearnerID != "" {
		conditions = append(conditions, fmt.Sprintf("learner_id = $%d", len(args)+1))
		args = append(args, filter.LearnerID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Completed != nil {
		if *filter.Completed {
			conditions = append(conditions, "completed_at IS NOT NULL")
		} else {
			conditions = append(conditions, "completed_at IS NULL")
		}
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	page, size := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM progressions%s ORDER BY updated_at DESC LIMIT %d OFFSET %d`, progressionColumns, clause, size, offset)
	var progressions []models.Progression
	if err := r.db.SelectContext(ctx, &progressions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list progressions: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM progressions"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count progressions: %w", err)
	}
	return progressions, total, nil
}

// Aggregate returns count, completed count and mean percent of a learner's progressions.
func (r *ProgressionRepository) Aggregate(ctx context.Context, learnerID string) (*ProgressAggregate, error) {
	const query = `SELECT COUNT(*) AS courses, COUNT(completed_at) AS completed, COALESCE(AVG(percent), 0) AS average
        FROM progressions WHERE learner_id = $1`
	var agg ProgressAggregate
	if err := r.db.GetContext(ctx, &agg, query, learnerID); err != nil {
		return nil, fmt.Errorf("aggregate progressions: %w", err)
	}
	return &agg, nil
}

// ApplyPercent stores percent for the pair under a row lock. The first write of 100 stamps
// completed_at and marks the enrollment DONE; later writes never touch completed_at.
// sql.ErrNoRows is returned when the pair has no progression or is no longer enrolled.
func (r *ProgressionRepository) ApplyPercent(ctx context.Context, learnerID, courseID string, percent int) (result *PercentUpdate, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin progression transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Progression
	lockQuery := `SELECT ` + progressionColumns + ` FROM progressions
        WHERE learner_id = $1 AND course_id = $2
          AND EXISTS (SELECT 1 FROM enrollments e WHERE e.learner_id = $1 AND e.course_id = $2)
        FOR UPDATE`
	if err = tx.GetContext(ctx, &current, lockQuery, learnerID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock progression: %w", err)
	}

	now := time.Now().UTC()
	justCompleted := percent == models.MaxPercent && current.CompletedAt == nil
	current.Percent = percent
	current.UpdatedAt = now
	if justCompleted {
		current.CompletedAt = &now
	}

	const updateQuery = `UPDATE progressions SET percent = $2, completed_at = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, updateQuery, current.ID, current.Percent, current.CompletedAt, current.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update progression: %w", err)
	}

	if justCompleted {
		const doneQuery = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE learner_id = $1 AND course_id = $2`
		if _, err = tx.ExecContext(ctx, doneQuery, learnerID, courseID, models.EnrollmentStatusDone, now); err != nil {
			return nil, fmt.Errorf("complete enrollment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit progression: %w", err)
	}
	return &PercentUpdate{Progression: &current, JustCompleted: justCompleted}, nil
}

// resetProgressionTx starts the pair's progression over at 0%, reusing a row left behind by a
// standalone Initialize. progression.ID is set to the stored row's id.
func resetProgressionTx(ctx context.Context, tx *sqlx.Tx, progression *models.Progression) error {
	const query = `INSERT INTO progressions (id, learner_id, course_id, percent, started_at, completed_at, updated_at)
        VALUES ($1, $2, $3, 0, $4, NULL, $5)
        ON CONFLICT (learner_id, course_id) DO UPDATE
        SET percent = 0, completed_at = NULL, started_at = EXCLUDED.started_at, updated_at = EXCLUDED.updated_at
        RETURNING id`
	progression.Percent = 0
	progression.CompletedAt = nil
	if err := tx.GetContext(ctx, &progression.ID, query, progression.ID, progression.LearnerID, progression.CourseID, progression.StartedAt, progression.UpdatedAt); err != nil {
		return fmt.Errorf("initialize progression: %w", err)
	}
	return nil
}

func initializeProgressionTx(ctx context.Context, exec sqlx.ExecerContext, progression *models.Progression) error {
	const query = `INSERT INTO progressions (id, learner_id, course_id, percent, started_at, completed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (learner_id, course_id) DO NOTHING`
	if _, err := exec.ExecContext(ctx, query, progression.ID, progression.LearnerID, progression.CourseID, progression.Percent, progression.StartedAt, progression.CompletedAt, progression.UpdatedAt); err != nil {
		return fmt.Errorf("initialize progression: %w", err)
	}
	return nil
}
