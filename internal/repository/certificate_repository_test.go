package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/database"
)

func TestCertificateRepositoryCreateDuplicatePair(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO certificates")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "certificates_learner_course_key"})

	err := repo.Create(context.Background(), &models.Certificate{LearnerID: "learner-1", CourseID: "course-1", Number: "CERT-1", Valid: true, DocumentPath: "x.pdf"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrUniqueViolation))
	assert.Contains(t, err.Error(), "certificates_learner_course_key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryExistsByNumber(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM certificates WHERE number = $1")).
		WithArgs("CERT-TAKEN").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM certificates WHERE number = $1")).
		WithArgs("CERT-FREE").
		WillReturnError(sql.ErrNoRows)

	taken, err := repo.ExistsByNumber(context.Background(), "CERT-TAKEN")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = repo.ExistsByNumber(context.Background(), "CERT-FREE")
	require.NoError(t, err)
	assert.False(t, taken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryListByLearner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	rows := sqlmock.NewRows([]string{"id", "learner_id", "course_id", "number", "issued_at", "valid", "document_path"}).
		AddRow("cert-1", "learner-1", "course-1", "CERT-20260101-ABCDEF0123", time.Now(), true, "certificates/learner-1/cert.pdf")
	mock.ExpectQuery(regexp.QuoteMeta("FROM certificates WHERE learner_id = $1")).
		WithArgs("learner-1").
		WillReturnRows(rows)

	certs, err := repo.ListByLearner(context.Background(), "learner-1")
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "CERT-20260101-ABCDEF0123", certs[0].Number)
	require.NoError(t, mock.ExpectationsWereMet())
}
