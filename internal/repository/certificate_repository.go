package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/database"
)

const certificateColumns = `id, learner_id, course_id, number, issued_at, valid, document_path`

// CertificateRepository persists issued certificates. Rows are insert-only.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Create inserts a certificate. Violations of the (learner, course) or number
// uniqueness constraints are reported as database.ErrUniqueViolation.
func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificates (id, learner_id, course_id, number, issued_at, valid, document_path)
        VALUES (:id, :learner_id, :course_id, :number, :issued_at, :valid, :document_path)`
	if _, err := r.db.NamedExecContext(ctx, query, cert); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("create certificate (%s): %w", database.Constraint(err), database.ErrUniqueViolation)
		}
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// FindByID returns a certificate by ID.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindByLearnerAndCourse returns the certificate issued for the pair.
func (r *CertificateRepository) FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE learner_id = $1 AND course_id = $2`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, learnerID, courseID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// ListByLearner returns every certificate held by the learner, newest first.
func (r *CertificateRepository) ListByLearner(ctx context.Context, learnerID string) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE learner_id = $1 ORDER BY issued_at DESC`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, learnerID); err != nil {
		return nil, fmt.Errorf("list learner certificates: %w", err)
	}
	return certs, nil
}

// ExistsByNumber reports whether a certificate number is already taken.
func (r *CertificateRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM certificates WHERE number = $1 LIMIT 1`, number); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check certificate number: %w", err)
	}
	return true, nil
}
