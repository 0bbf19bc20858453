package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/cache"
	"github.com/noah-isme/elearning-api/pkg/database"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Enrollment, error)
	ListByLearner(ctx context.Context, learnerID string) ([]models.EnrollmentDetail, error)
	CreateWithProgression(ctx context.Context, enrollment *models.Enrollment, progression *models.Progression) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	DeleteWithProgression(ctx context.Context, enrollment *models.Enrollment) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollRequest describes an enrollment of a learner into a course.
type EnrollRequest struct {
	LearnerID string `json:"-" validate:"required,uuid"`
	CourseID  string `json:"course_id" validate:"required,uuid"`
}

// UpdateEnrollmentStatusRequest describes a status transition.
type UpdateEnrollmentStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required,oneof=IN_PROGRESS DONE"`
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseReader
	learners  learnerDirectory
	cache     *CacheService
	notifier  *NotificationService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, learners learnerDirectory, cacheSvc *CacheService, notifier *NotificationService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		courses:   courses,
		learners:  learners,
		cache:     cacheSvc,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Enroll registers a learner on a course and starts their progression at 0%.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid enrollment payload")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if !course.OpenForEnrollment() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not open for enrollment")
	}

	if _, err := s.learners.FindByID(ctx, req.LearnerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "learner not found")
		}
		return nil, appErrors.Internal(err, "failed to load learner")
	}

	// fast path only; the unique constraint decides concurrent attempts
	if _, err := s.repo.FindByLearnerAndCourse(ctx, req.LearnerID, req.CourseID); err == nil {
		s.metrics.IncEnrollmentConflict()
		return nil, appErrors.Clone(appErrors.ErrConflict, "learner already enrolled in course")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check enrollment")
	}

	enrollment := &models.Enrollment{LearnerID: req.LearnerID, CourseID: req.CourseID, Status: models.EnrollmentStatusInProgress}
	progression := &models.Progression{}
	if err := s.repo.CreateWithProgression(ctx, enrollment, progression); err != nil {
		if database.IsUniqueViolation(err) {
			s.metrics.IncEnrollmentConflict()
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "learner already enrolled in course")
		}
		return nil, appErrors.Internal(err, "failed to create enrollment")
	}

	s.metrics.IncEnrollmentCreated()
	s.invalidateProgress(ctx, req.LearnerID)
	s.notifier.Notify(ctx, req.LearnerID, models.NotificationEnrolled, "You are enrolled in "+course.Title)
	s.logger.Info("learner enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("learner_id", req.LearnerID),
		zap.String("course_id", req.CourseID),
	)
	return enrollment, nil
}

// Unenroll removes the learner's enrollment together with its progression. Issued certificates remain.
func (s *EnrollmentService) Unenroll(ctx context.Context, enrollmentID, learnerID string) error {
	if err := s.validator.Var(enrollmentID, "required,uuid"); err != nil {
		return appErrors.Invalid(err, "invalid enrollment id")
	}
	if err := s.validator.Var(learnerID, "required,uuid"); err != nil {
		return appErrors.Invalid(err, "invalid learner id")
	}
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Internal(err, "failed to load enrollment")
	}
	if enrollment.LearnerID != learnerID {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if err := s.repo.DeleteWithProgression(ctx, enrollment); err != nil {
		return appErrors.Internal(err, "failed to remove enrollment")
	}
	s.invalidateProgress(ctx, learnerID)
	s.logger.Info("learner unenrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("learner_id", learnerID),
		zap.String("course_id", enrollment.CourseID),
	)
	return nil
}

// ListByLearner returns the learner's enrollments.
func (s *EnrollmentService) ListByLearner(ctx context.Context, learnerID string) ([]models.EnrollmentDetail, error) {
	if err := s.validator.Var(learnerID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid learner id")
	}
	enrollments, err := s.repo.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}
	if enrollments == nil {
		enrollments = []models.EnrollmentDetail{}
	}
	return enrollments, nil
}

// UpdateStatus changes the status of an enrollment owned by learnerID.
func (s *EnrollmentService) UpdateStatus(ctx context.Context, enrollmentID string, req UpdateEnrollmentStatusRequest, learnerID string) (*models.Enrollment, error) {
	req.Status = models.EnrollmentStatus(strings.ToUpper(string(req.Status)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "unknown enrollment status")
	}
	if err := s.validator.Var(enrollmentID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid enrollment id")
	}
	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	if enrollment.LearnerID != learnerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another learner")
	}
	if enrollment.Status == req.Status {
		return enrollment, nil
	}
	if err := s.repo.UpdateStatus(ctx, enrollment.ID, req.Status); err != nil {
		return nil, appErrors.Internal(err, "failed to update enrollment status")
	}
	enrollment.Status = req.Status
	return enrollment, nil
}

func (s *EnrollmentService) invalidateProgress(ctx context.Context, learnerID string) {
	_ = s.cache.Invalidate(ctx, cache.ProgressKey(learnerID))
}
