package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/database"
)

const enrollmentColumns = `id, learner_id, course_id, status, enrolled_at, updated_at`

// EnrollmentRepository handles persistence of enrollments together with their roster entry and progression.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByLearnerAndCourse returns the enrollment for the pair.
func (r *EnrollmentRepository) FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE learner_id = $1 AND course_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, learnerID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByLearner returns the learner's enrollments with course info, newest first.
func (r *EnrollmentRepository) ListByLearner(ctx context.Context, learnerID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.learner_id, e.course_id, e.status, e.enrolled_at, e.updated_at,
        COALESCE(c.title, '') AS course_title, COALESCE(c.level, '') AS course_level
        FROM enrollments e
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.learner_id = $1
        ORDER BY e.enrolled_at DESC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, learnerID); err != nil {
		return nil, fmt.Errorf("list learner enrollments: %w", err)
	}
	return enrollments, nil
}

// CreateWithProgression inserts the enrollment, its roster entry and a 0% progression in one transaction.
// A progression already stored for the pair is reset to 0% and its completion cleared.
// A duplicate (learner, course) pair is reported as database.ErrUniqueViolation.
func (r *EnrollmentRepository) CreateWithProgression(ctx context.Context, enrollment *models.Enrollment, progression *models.Progression) (err error) {
	now := time.Now().UTC()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.UpdatedAt = enrollment.EnrolledAt
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusInProgress
	}
	if progression.ID == "" {
		progression.ID = uuid.NewString()
	}
	progression.LearnerID = enrollment.LearnerID
	progression.CourseID = enrollment.CourseID
	if progression.StartedAt.IsZero() {
		progression.StartedAt = enrollment.EnrolledAt
	}
	progression.UpdatedAt = progression.StartedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertEnrollment = `INSERT INTO enrollments (id, learner_id, course_id, status, enrolled_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err = tx.ExecContext(ctx, insertEnrollment, enrollment.ID, enrollment.LearnerID, enrollment.CourseID, enrollment.Status, enrollment.EnrolledAt, enrollment.UpdatedAt); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("create enrollment: %w", database.ErrUniqueViolation)
		}
		return fmt.Errorf("create enrollment: %w", err)
	}

	const insertRoster = `INSERT INTO course_roster (course_id, learner_id, added_at) VALUES ($1, $2, $3)
        ON CONFLICT (course_id, learner_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, insertRoster, enrollment.CourseID, enrollment.LearnerID, enrollment.EnrolledAt); err != nil {
		return fmt.Errorf("register roster entry: %w", err)
	}

	if err = resetProgressionTx(ctx, tx, progression); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// UpdateStatus sets the status of an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// DeleteWithProgression removes the enrollment, its roster entry and its progression in one transaction.
// Certificates are left untouched.
func (r *EnrollmentRepository) DeleteWithProgression(ctx context.Context, enrollment *models.Enrollment) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unenroll transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM progressions WHERE learner_id = $1 AND course_id = $2`, enrollment.LearnerID, enrollment.CourseID); err != nil {
		return fmt.Errorf("delete progression: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM course_roster WHERE course_id = $1 AND learner_id = $2`, enrollment.CourseID, enrollment.LearnerID); err != nil {
		return fmt.Errorf("delete roster entry: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, enrollment.ID); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit unenroll: %w", err)
	}
	return nil
}
