package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-api/internal/models"
)

var courseRowColumns = []string{"id", "title", "duration_minutes", "level", "domain_id", "published", "approval_status", "modules", "created_at", "updated_at"}

func TestCourseRepositoryListBuildsFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	published := true
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE level = $1 AND published = $2 AND LOWER(title) LIKE $3 ORDER BY title ASC LIMIT 10 OFFSET 10")).
		WithArgs(models.CourseLevelBeta, true, "%go%").
		WillReturnRows(sqlmock.NewRows(courseRowColumns).
			AddRow("course-1", "Go Basics", 90, "BETA", nil, true, "APPROVED", "{intro,types}", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses WHERE level = $1")).
		WithArgs(models.CourseLevelBeta, true, "%go%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{
		Level:     models.CourseLevelBeta,
		Published: &published,
		Search:    "Go",
		Page:      2,
		PageSize:  10,
		SortBy:    "title",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, courses, 1)
	assert.Equal(t, []string{"intro", "types"}, []string(courses[0].Modules))
	assert.True(t, courses[0].OpenForEnrollment())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListIgnoresUnknownSort(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(courseRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.CourseFilter{SortBy: "title; DROP TABLE courses", SortOrder: "sideways"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	course := &models.Course{Title: "Go Basics", Level: models.CourseLevelBeta}
	require.NoError(t, repo.Create(context.Background(), course))
	assert.NotEmpty(t, course.ID)
	assert.Equal(t, models.ApprovalPending, course.ApprovalStatus)
	assert.NotNil(t, course.Modules)
	assert.False(t, course.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositorySetApproval(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET approval_status = $2")).
		WithArgs("course-1", models.ApprovalApproved, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetApproval(context.Background(), "course-1", models.ApprovalApproved))
	require.NoError(t, mock.ExpectationsWereMet())
}
