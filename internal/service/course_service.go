package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-api/internal/models"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetPublication(ctx context.Context, id string, published bool) error
	SetApproval(ctx context.Context, id string, status models.ApprovalStatus) error
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title           string             `json:"title" validate:"required,max=200"`
	DurationMinutes int                `json:"duration_minutes" validate:"gte=0"`
	Level           models.CourseLevel `json:"level" validate:"required,oneof=ALFA BETA GAMMA DELTA"`
	DomainID        *string            `json:"domain_id" validate:"omitempty,uuid"`
	Modules         []string           `json:"modules" validate:"omitempty,dive,required"`
}

// UpdateCourseRequest is the payload for editing a course.
type UpdateCourseRequest struct {
	Title           string             `json:"title" validate:"required,max=200"`
	DurationMinutes int                `json:"duration_minutes" validate:"gte=0"`
	Level           models.CourseLevel `json:"level" validate:"required,oneof=ALFA BETA GAMMA DELTA"`
	DomainID        *string            `json:"domain_id" validate:"omitempty,uuid"`
	Modules         []string           `json:"modules" validate:"omitempty,dive,required"`
}

// SetPublicationRequest toggles course visibility.
type SetPublicationRequest struct {
	Published *bool `json:"published" validate:"required"`
}

// SetApprovalRequest records a review decision.
type SetApprovalRequest struct {
	Status models.ApprovalStatus `json:"status" validate:"required,oneof=PENDING APPROVED REJECTED"`
}

// CourseService manages the course catalog.
type CourseService struct {
	repo      courseRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	filter.Level = models.CourseLevel(strings.ToUpper(string(filter.Level)))
	if filter.Level != "" && !filter.Level.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidArgument, "unknown course level")
	}
	filter.ApprovalStatus = models.ApprovalStatus(strings.ToUpper(string(filter.ApprovalStatus)))
	if filter.ApprovalStatus != "" && !filter.ApprovalStatus.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidArgument, "unknown approval status")
	}
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list courses")
	}
	return courses, pageOf(filter.Page, filter.PageSize, total), nil
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	if err := s.validator.Var(id, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid course id")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

// Create registers a new course awaiting review.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	req.Level = models.CourseLevel(strings.ToUpper(string(req.Level)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid course payload")
	}
	course := &models.Course{
		Title:           strings.TrimSpace(req.Title),
		DurationMinutes: req.DurationMinutes,
		Level:           req.Level,
		DomainID:        req.DomainID,
		ApprovalStatus:  models.ApprovalPending,
		Modules:         req.Modules,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Internal(err, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("level", string(course.Level)))
	return course, nil
}

// Update edits a course.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	req.Level = models.CourseLevel(strings.ToUpper(string(req.Level)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	course.Title = strings.TrimSpace(req.Title)
	course.DurationMinutes = req.DurationMinutes
	course.Level = req.Level
	course.DomainID = req.DomainID
	course.Modules = req.Modules
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Internal(err, "failed to update course")
	}
	return course, nil
}

// SetPublication publishes or withdraws a course.
func (s *CourseService) SetPublication(ctx context.Context, id string, req SetPublicationRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid publication payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetPublication(ctx, id, *req.Published); err != nil {
		return nil, appErrors.Internal(err, "failed to update publication")
	}
	course.Published = *req.Published
	return course, nil
}

// SetApproval records the review outcome for a course.
func (s *CourseService) SetApproval(ctx context.Context, id string, req SetApprovalRequest) (*models.Course, error) {
	req.Status = models.ApprovalStatus(strings.ToUpper(string(req.Status)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid approval payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetApproval(ctx, id, req.Status); err != nil {
		return nil, appErrors.Internal(err, "failed to update approval")
	}
	course.ApprovalStatus = req.Status
	return course, nil
}

func pageOf(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
