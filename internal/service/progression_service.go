package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/internal/repository"
	"github.com/noah-isme/elearning-api/pkg/cache"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
	"github.com/noah-isme/elearning-api/pkg/export"
)

const (
	exportPageSize = 100
	exportRowLimit = 5000
)

type progressionRepository interface {
	Initialize(ctx context.Context, learnerID, courseID string) (*models.Progression, error)
	FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Progression, error)
	ListByLearner(ctx context.Context, learnerID string) ([]models.Progression, error)
	List(ctx context.Context, filter models.ProgressionFilter) ([]models.Progression, int, error)
	Aggregate(ctx context.Context, learnerID string) (*repository.ProgressAggregate, error)
	ApplyPercent(ctx context.Context, learnerID, courseID string, percent int) (*repository.PercentUpdate, error)
}

type certificateIssuer interface {
	GenerateIfEligible(ctx context.Context, progression *models.Progression) (*models.Certificate, error)
}

// UpdateProgressRequest sets the completion percent of a learner on a course.
type UpdateProgressRequest struct {
	LearnerID string `json:"-" validate:"required,uuid"`
	CourseID  string `json:"-" validate:"required,uuid"`
	Percent   *int   `json:"percent" validate:"required,min=0,max=100"`
}

// UpdateProgressResult is the outcome of a progress update. CertificationPending is set when the
// update completed the course but issuance failed or timed out; the update itself is kept.
type UpdateProgressResult struct {
	Progression          *models.Progression `json:"progression"`
	Certificate          *models.Certificate `json:"certificate,omitempty"`
	CertificationPending bool                `json:"certification_pending"`
}

// ProgressReport is a rendered progress export.
type ProgressReport struct {
	Filename    string
	ContentType string
	Content     []byte
	Rows        int
}

// ProgressionConfig tunes progression tracking.
type ProgressionConfig struct {
	IssueTimeout time.Duration
	CacheTTL     time.Duration
}

// ProgressionService tracks learner progress and triggers certification on completion.
type ProgressionService struct {
	repo      progressionRepository
	issuer    certificateIssuer
	cache     *CacheService
	notifier  *NotificationService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    ProgressionConfig
}

// NewProgressionService constructs ProgressionService.
func NewProgressionService(repo progressionRepository, issuer certificateIssuer, cacheSvc *CacheService, notifier *NotificationService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config ProgressionConfig) *ProgressionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.IssueTimeout <= 0 {
		config.IssueTimeout = 10 * time.Second
	}
	return &ProgressionService{
		repo:      repo,
		issuer:    issuer,
		cache:     cacheSvc,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// Initialize returns the pair's progression, creating it at 0% when absent.
func (s *ProgressionService) Initialize(ctx context.Context, learnerID, courseID string) (*models.Progression, error) {
	if err := s.validatePair(learnerID, courseID); err != nil {
		return nil, err
	}
	progression, err := s.repo.Initialize(ctx, learnerID, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to initialize progression")
	}
	return progression, nil
}

// Update stores the supplied percent. The first update reaching 100 stamps the completion time,
// marks the enrollment done and calls the certificate issuer exactly once.
func (s *ProgressionService) Update(ctx context.Context, req UpdateProgressRequest) (*UpdateProgressResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "percent must be between 0 and 100")
	}

	update, err := s.repo.ApplyPercent(ctx, req.LearnerID, req.CourseID, *req.Percent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "progression not found")
		}
		return nil, appErrors.Internal(err, "failed to update progression")
	}
	_ = s.cache.Invalidate(ctx, cache.ProgressKey(req.LearnerID))

	result := &UpdateProgressResult{Progression: update.Progression}
	if !update.JustCompleted {
		return result, nil
	}

	s.metrics.IncProgressionCompleted()
	s.notifier.Notify(ctx, req.LearnerID, models.NotificationCourseCompleted, "You completed a course")

	if s.issuer == nil {
		return result, nil
	}
	issueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.IssueTimeout)
	defer cancel()
	cert, err := s.issuer.GenerateIfEligible(issueCtx, update.Progression)
	if err != nil {
		result.CertificationPending = true
		s.logger.Warn("certificate issuance failed after completion",
			zap.String("learner_id", req.LearnerID),
			zap.String("course_id", req.CourseID),
			zap.Error(err),
		)
		return result, nil
	}
	result.Certificate = cert
	return result, nil
}

// GetByUserAndCourse returns the learner's progression on a course.
func (s *ProgressionService) GetByUserAndCourse(ctx context.Context, learnerID, courseID string) (*models.Progression, error) {
	if err := s.validatePair(learnerID, courseID); err != nil {
		return nil, err
	}
	progression, err := s.repo.FindByLearnerAndCourse(ctx, learnerID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "progression not found")
		}
		return nil, appErrors.Internal(err, "failed to load progression")
	}
	return progression, nil
}

// GetUserProgressions lists every progression of a learner.
func (s *ProgressionService) GetUserProgressions(ctx context.Context, learnerID string) ([]models.Progression, error) {
	if err := s.validator.Var(learnerID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid learner id")
	}
	progressions, err := s.repo.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list progressions")
	}
	if progressions == nil {
		progressions = []models.Progression{}
	}
	return progressions, nil
}

// GetAllProgressions lists progressions across learners.
func (s *ProgressionService) GetAllProgressions(ctx context.Context, filter models.ProgressionFilter) ([]models.Progression, *models.Pagination, error) {
	if err := s.validateFilter(filter); err != nil {
		return nil, nil, err
	}
	progressions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list progressions")
	}
	if progressions == nil {
		progressions = []models.Progression{}
	}
	return progressions, pageOf(filter.Page, filter.PageSize, total), nil
}

// GlobalProgress returns the mean percent across the learner's courses, 0 without courses.
// Results may be served from cache and lag recent writes.
func (s *ProgressionService) GlobalProgress(ctx context.Context, learnerID string) (*models.GlobalProgress, error) {
	if err := s.validator.Var(learnerID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid learner id")
	}
	key := cache.ProgressKey(learnerID)
	var cached models.GlobalProgress
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	agg, err := s.repo.Aggregate(ctx, learnerID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to aggregate progress")
	}
	global := &models.GlobalProgress{LearnerID: learnerID, Courses: agg.Courses, Completed: agg.Completed}
	if agg.Courses > 0 {
		global.Percent = math.Round(agg.Average*100) / 100
	}
	_ = s.cache.Set(ctx, key, global, s.config.CacheTTL)
	return global, nil
}

// ExportReport renders every progression matching the filter as a CSV or PDF table.
// Paging fields of the filter are ignored; at most exportRowLimit rows are included.
func (s *ProgressionService) ExportReport(ctx context.Context, filter models.ProgressionFilter, format string) (*ProgressReport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = export.FormatCSV
	}
	if format != export.FormatCSV && format != export.FormatPDF {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "format must be csv or pdf")
	}
	if err := s.validateFilter(filter); err != nil {
		return nil, err
	}

	report := export.Report{
		Title:   "Learner progress",
		Columns: []string{"learner_id", "course_id", "percent", "started_at", "completed_at"},
	}
	filter.PageSize = exportPageSize
	for filter.Page = 1; len(report.Rows) < exportRowLimit; filter.Page++ {
		batch, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list progressions")
		}
		for _, p := range batch {
			completed := ""
			if p.CompletedAt != nil {
				completed = p.CompletedAt.UTC().Format(time.RFC3339)
			}
			report.Rows = append(report.Rows, []string{
				p.LearnerID,
				p.CourseID,
				strconv.Itoa(p.Percent),
				p.StartedAt.UTC().Format(time.RFC3339),
				completed,
			})
		}
		if len(batch) < exportPageSize || filter.Page*exportPageSize >= total {
			break
		}
	}
	if len(report.Rows) > exportRowLimit {
		report.Rows = report.Rows[:exportRowLimit]
	}

	content, err := export.Render(report, format)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render progress report")
	}
	return &ProgressReport{
		Filename:    fmt.Sprintf("progress-%s.%s", time.Now().UTC().Format("20060102-150405"), format),
		ContentType: export.ContentType(format),
		Content:     content,
		Rows:        len(report.Rows),
	}, nil
}

func (s *ProgressionService) validateFilter(filter models.ProgressionFilter) error {
	if filter.LearnerID != "" {
		if err := s.validator.Var(filter.LearnerID, "uuid"); err != nil {
			return appErrors.Invalid(err, "invalid learner id")
		}
	}
	if filter.CourseID != "" {
		if err := s.validator.Var(filter.CourseID, "uuid"); err != nil {
			return appErrors.Invalid(err, "invalid course id")
		}
	}
	return nil
}

func (s *ProgressionService) validatePair(learnerID, courseID string) error {
	if err := s.validator.Var(learnerID, "required,uuid"); err != nil {
		return appErrors.Invalid(err, "invalid learner id")
	}
	if err := s.validator.Var(courseID, "required,uuid"); err != nil {
		return appErrors.Invalid(err, "invalid course id")
	}
	return nil
}
