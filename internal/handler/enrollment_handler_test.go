package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-api/internal/middleware"
	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/internal/service"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
)

func newTestContext(t *testing.T, method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func learnerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleLearner}
}

type enrollmentServiceMock struct {
	enrollReq   service.EnrollRequest
	enrollErr   error
	unenrollErr error
	unenrolled  [2]string
	list        []models.EnrollmentDetail
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, req service.EnrollRequest) (*models.Enrollment, error) {
	m.enrollReq = req
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	return &models.Enrollment{ID: "enr-1", LearnerID: req.LearnerID, CourseID: req.CourseID, Status: models.EnrollmentStatusInProgress}, nil
}

func (m *enrollmentServiceMock) Unenroll(ctx context.Context, enrollmentID, learnerID string) error {
	m.unenrolled = [2]string{enrollmentID, learnerID}
	return m.unenrollErr
}

func (m *enrollmentServiceMock) ListByLearner(ctx context.Context, learnerID string) ([]models.EnrollmentDetail, error) {
	return m.list, nil
}

func (m *enrollmentServiceMock) UpdateStatus(ctx context.Context, enrollmentID string, req service.UpdateEnrollmentStatusRequest, learnerID string) (*models.Enrollment, error) {
	return &models.Enrollment{ID: enrollmentID, LearnerID: learnerID, Status: req.Status}, nil
}

func TestEnrollmentHandlerCreateUsesAuthenticatedLearner(t *testing.T) {
	svc := &enrollmentServiceMock{}
	handler := NewEnrollmentHandler(svc)
	c, w := newTestContext(t, http.MethodPost, "/enrollments", gin.H{"course_id": "course-1", "learner_id": "someone-else"}, learnerClaims("learner-1"))

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "learner-1", svc.enrollReq.LearnerID)
	assert.Equal(t, "course-1", svc.enrollReq.CourseID)
}

func TestEnrollmentHandlerCreateMapsConflict(t *testing.T) {
	handler := NewEnrollmentHandler(&enrollmentServiceMock{enrollErr: appErrors.Clone(appErrors.ErrConflict, "already enrolled")})
	c, w := newTestContext(t, http.MethodPost, "/enrollments", gin.H{"course_id": "course-1"}, learnerClaims("learner-1"))

	handler.Create(c)

	require.Equal(t, http.StatusConflict, w.Code)
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "CONFLICT", envelope.Error.Code)
}

func TestEnrollmentHandlerCreateRequiresClaims(t *testing.T) {
	handler := NewEnrollmentHandler(&enrollmentServiceMock{})
	c, w := newTestContext(t, http.MethodPost, "/enrollments", gin.H{"course_id": "course-1"}, nil)

	handler.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnrollmentHandlerCreateInvalidBody(t *testing.T) {
	handler := NewEnrollmentHandler(&enrollmentServiceMock{})
	c, w := newTestContext(t, http.MethodPost, "/enrollments", "invalid", learnerClaims("learner-1"))

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerDelete(t *testing.T) {
	svc := &enrollmentServiceMock{}
	handler := NewEnrollmentHandler(svc)
	c, w := newTestContext(t, http.MethodDelete, "/enrollments/enr-1", nil, learnerClaims("learner-1"))
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}

	handler.Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, [2]string{"enr-1", "learner-1"}, svc.unenrolled)
}

func TestEnrollmentHandlerListMine(t *testing.T) {
	svc := &enrollmentServiceMock{list: []models.EnrollmentDetail{{Enrollment: models.Enrollment{ID: "enr-1"}, CourseTitle: "Go"}}}
	handler := NewEnrollmentHandler(svc)
	c, w := newTestContext(t, http.MethodGet, "/enrollments/me", nil, learnerClaims("learner-1"))

	handler.ListMine(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"course_title":"Go"`)
}
