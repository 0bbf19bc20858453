package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-api/internal/models"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
)

func TestEnrollmentServiceEnrollCreatesProgression(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelBeta, true)
	learner := store.addLearner("ana")

	enrollment, err := p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusInProgress, enrollment.Status)

	progression, err := p.progress.GetByUserAndCourse(context.Background(), learner.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progression.Percent)
	assert.Nil(t, progression.CompletedAt)
	assert.True(t, store.roster[pairKey(learner.ID, course.ID)])
}

func TestEnrollmentServiceEnrollResetsLeftoverProgression(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelBeta, true)
	learner := store.addLearner("ana")

	_, err := p.progress.Initialize(context.Background(), learner.ID, course.ID)
	require.NoError(t, err)
	store.mu.Lock()
	now := time.Now().UTC()
	leftover := store.progressions[pairKey(learner.ID, course.ID)]
	leftover.Percent, leftover.CompletedAt = 100, &now
	store.progressions[pairKey(learner.ID, course.ID)] = leftover
	store.mu.Unlock()

	_, err = p.progress.Update(context.Background(), UpdateProgressRequest{LearnerID: learner.ID, CourseID: course.ID, Percent: percent(40)})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound), "updates need an enrollment, got %v", err)

	_, err = p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
	require.NoError(t, err)

	progression, err := p.progress.GetByUserAndCourse(context.Background(), learner.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, leftover.ID, progression.ID)
	assert.Equal(t, 0, progression.Percent)
	assert.Nil(t, progression.CompletedAt)
}

func TestEnrollmentServiceEnrollValidation(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	open := store.addCourse(models.CourseLevelBeta, true)
	closed := store.addCourse(models.CourseLevelBeta, false)
	learner := store.addLearner("ana")

	tests := []struct {
		name string
		req  EnrollRequest
		want *appErrors.Error
	}{
		{name: "malformed learner", req: EnrollRequest{LearnerID: "abc", CourseID: open.ID}, want: appErrors.ErrInvalidArgument},
		{name: "malformed course", req: EnrollRequest{LearnerID: learner.ID, CourseID: "course-1"}, want: appErrors.ErrInvalidArgument},
		{name: "missing course", req: EnrollRequest{LearnerID: learner.ID, CourseID: uuid.NewString()}, want: appErrors.ErrNotFound},
		{name: "closed course", req: EnrollRequest{LearnerID: learner.ID, CourseID: closed.ID}, want: appErrors.ErrPreconditionFailed},
		{name: "missing learner", req: EnrollRequest{LearnerID: uuid.NewString(), CourseID: open.ID}, want: appErrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.enrollments.Enroll(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, tt.want), "got %v", err)
		})
	}
	assert.Empty(t, store.enrollments)
	assert.Empty(t, store.progressions)
}

func TestEnrollmentServiceEnrollDuplicateConflicts(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelGamma, true)
	learner := store.addLearner("ana")
	req := EnrollRequest{LearnerID: learner.ID, CourseID: course.ID}

	_, err := p.enrollments.Enroll(context.Background(), req)
	require.NoError(t, err)
	_, err = p.enrollments.Enroll(context.Background(), req)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
	assert.Len(t, store.enrollments, 1)
}

func TestEnrollmentServiceConcurrentEnrollYieldsOne(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelBeta, true)
	learner := store.addLearner("ana")

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case appErrors.HasCode(err, appErrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, store.enrollments, 1)
	assert.Len(t, store.progressions, 1)
}

func TestEnrollmentServiceEnrollLeavesNoOrphanOnProgressionFailure(t *testing.T) {
	store := newMemStore()
	store.progressionInitErr = errors.New("disk full")
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelBeta, true)
	learner := store.addLearner("ana")

	_, err := p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal))
	assert.Empty(t, store.enrollments)
	assert.Empty(t, store.progressions)
}

func TestEnrollmentServiceUnenroll(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelBeta, true)
	learner := store.addLearner("ana")
	other := store.addLearner("ben")

	enrollment, err := p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
	require.NoError(t, err)

	err = p.enrollments.Unenroll(context.Background(), enrollment.ID, other.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))

	require.NoError(t, p.enrollments.Unenroll(context.Background(), enrollment.ID, learner.ID))
	assert.Empty(t, store.enrollments)
	assert.Empty(t, store.progressions)
	assert.False(t, store.roster[pairKey(learner.ID, course.ID)])

	err = p.enrollments.Unenroll(context.Background(), enrollment.ID, learner.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestEnrollmentServiceUpdateStatus(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	course := store.addCourse(models.CourseLevelBeta, true)
	learner := store.addLearner("ana")
	other := store.addLearner("ben")

	enrollment, err := p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
	require.NoError(t, err)

	_, err = p.enrollments.UpdateStatus(context.Background(), enrollment.ID, UpdateEnrollmentStatusRequest{Status: "CANCELLED"}, learner.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidArgument))

	_, err = p.enrollments.UpdateStatus(context.Background(), enrollment.ID, UpdateEnrollmentStatusRequest{Status: models.EnrollmentStatusDone}, other.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))

	_, err = p.enrollments.UpdateStatus(context.Background(), uuid.NewString(), UpdateEnrollmentStatusRequest{Status: models.EnrollmentStatusDone}, learner.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))

	updated, err := p.enrollments.UpdateStatus(context.Background(), enrollment.ID, UpdateEnrollmentStatusRequest{Status: "done"}, learner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDone, updated.Status)
	assert.Equal(t, models.EnrollmentStatusDone, store.enrollments[enrollment.ID].Status)
}

func TestEnrollmentServiceListByLearner(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store)
	learner := store.addLearner("ana")

	list, err := p.enrollments.ListByLearner(context.Background(), learner.ID)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	course := store.addCourse(models.CourseLevelDelta, true)
	_, err = p.enrollments.Enroll(context.Background(), EnrollRequest{LearnerID: learner.ID, CourseID: course.ID})
	require.NoError(t, err)
	list, err = p.enrollments.ListByLearner(context.Background(), learner.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, course.Title, list[0].CourseTitle)
}
