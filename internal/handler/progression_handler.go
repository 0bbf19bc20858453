package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/internal/service"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
	"github.com/noah-isme/elearning-api/pkg/response"
)

type progressionService interface {
	Update(ctx context.Context, req service.UpdateProgressRequest) (*service.UpdateProgressResult, error)
	GetByUserAndCourse(ctx context.Context, learnerID, courseID string) (*models.Progression, error)
	GetUserProgressions(ctx context.Context, learnerID string) ([]models.Progression, error)
	GetAllProgressions(ctx context.Context, filter models.ProgressionFilter) ([]models.Progression, *models.Pagination, error)
	GlobalProgress(ctx context.Context, learnerID string) (*models.GlobalProgress, error)
	ExportReport(ctx context.Context, filter models.ProgressionFilter, format string) (*service.ProgressReport, error)
}

// ProgressionHandler reports and updates course completion.
type ProgressionHandler struct {
	progressions progressionService
}

// NewProgressionHandler constructs ProgressionHandler.
func NewProgressionHandler(progressions progressionService) *ProgressionHandler {
	return &ProgressionHandler{progressions: progressions}
}

type updateProgressPayload struct {
	Percent *int `json:"percent"`
}

// Update godoc
// @Summary Record course progress
// @Description Sets the completion percent. Reaching 100 on a certifying course issues the certificate.
// @Tags Progressions
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param payload body updateProgressPayload true "Progress payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /progressions/courses/{courseId} [put]
func (h *ProgressionHandler) Update(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	var payload updateProgressPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid payload"))
		return
	}

	result, err := h.progressions.Update(c.Request.Context(), service.UpdateProgressRequest{
		LearnerID: claims.UserID,
		CourseID:  c.Param("courseId"),
		Percent:   payload.Percent,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	var meta map[string]interface{}
	if result.CertificationPending {
		meta = map[string]interface{}{"certification": "pending"}
	}
	response.JSON(c, http.StatusOK, result, nil, meta)
}

// Get godoc
// @Summary Get my progress for a course
// @Tags Progressions
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /progressions/courses/{courseId} [get]
func (h *ProgressionHandler) Get(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	progression, err := h.progressions.GetByUserAndCourse(c.Request.Context(), claims.UserID, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progression, nil)
}

// ListMine godoc
// @Summary List my progressions
// @Tags Progressions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /progressions/me [get]
func (h *ProgressionHandler) ListMine(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	progressions, err := h.progressions.GetUserProgressions(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progressions, nil)
}

// Global godoc
// @Summary Get my overall progress
// @Tags Progressions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /progressions/me/global [get]
func (h *ProgressionHandler) Global(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	global, err := h.progressions.GlobalProgress(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, global, nil)
}

// List godoc
// @Summary List all progressions
// @Tags Progressions
// @Produce json
// @Param learner_id query string false "Learner ID"
// @Param course_id query string false "Course ID"
// @Param completed query bool false "Completed only"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /progressions [get]
func (h *ProgressionHandler) List(c *gin.Context) {
	filter := models.ProgressionFilter{
		LearnerID: c.Query("learner_id"),
		CourseID:  c.Query("course_id"),
		Completed: boolQuery(c, "completed"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	progressions, pagination, err := h.progressions.GetAllProgressions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progressions, pagination)
}

// Export godoc
// @Summary Export progressions
// @Tags Progressions
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param learner_id query string false "Learner ID"
// @Param course_id query string false "Course ID"
// @Param completed query bool false "Completed only"
// @Success 200 {file} file
// @Router /progressions/export [get]
func (h *ProgressionHandler) Export(c *gin.Context) {
	filter := models.ProgressionFilter{
		LearnerID: c.Query("learner_id"),
		CourseID:  c.Query("course_id"),
		Completed: boolQuery(c, "completed"),
	}
	report, err := h.progressions.ExportReport(c.Request.Context(), filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Report-Rows", strconv.Itoa(report.Rows))
	response.Document(c, report.Filename, report.ContentType, report.Content)
}
