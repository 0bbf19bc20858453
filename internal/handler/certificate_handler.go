package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/internal/service"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
	"github.com/noah-isme/elearning-api/pkg/response"
)

const pdfContentType = "application/pdf"

type certificateService interface {
	ListByUser(ctx context.Context, learnerID string) ([]models.Certificate, error)
	GeneratePDF(ctx context.Context, learnerID, certificateID string) (*service.CertificateDocument, error)
	DownloadLink(ctx context.Context, learnerID, certificateID string) (*service.DownloadLink, error)
	ResolveDownload(ctx context.Context, token string) (*service.CertificateDocument, error)
	VerifyIntegrity(ctx context.Context, certificateID string) (*models.CertificateIntegrity, error)
	Reconcile(ctx context.Context, req service.ReconcileRequest) (*service.ReconcileResult, error)
}

// CertificateHandler serves issued certificates.
type CertificateHandler struct {
	certificates certificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates certificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

// ListMine godoc
// @Summary List my certificates
// @Tags Certificates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /certificates/me [get]
func (h *CertificateHandler) ListMine(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	certs, err := h.certificates.ListByUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, nil)
}

// PDF godoc
// @Summary Render my certificate
// @Tags Certificates
// @Produce application/pdf
// @Param id path string true "Certificate ID"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /certificates/{id}/pdf [get]
func (h *CertificateHandler) PDF(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	doc, err := h.certificates.GeneratePDF(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Document(c, doc.Filename, pdfContentType, doc.Content)
}

// Link godoc
// @Summary Create a signed download link
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/link [get]
func (h *CertificateHandler) Link(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	link, err := h.certificates.DownloadLink(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a certificate with a signed token
// @Tags Certificates
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /certificates/download/{token} [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	doc, err := h.certificates.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Document(c, doc.Filename, pdfContentType, doc.Content)
}

// Integrity godoc
// @Summary Check a certificate's references
// @Tags Certificates
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/integrity [get]
func (h *CertificateHandler) Integrity(c *gin.Context) {
	report, err := h.certificates.VerifyIntegrity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Reconcile godoc
// @Summary Retry certificate issuance for a learner and course
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body service.ReconcileRequest true "Pair to reconcile"
// @Success 200 {object} response.Envelope
// @Router /certificates/reconcile [post]
func (h *CertificateHandler) Reconcile(c *gin.Context) {
	var req service.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid payload"))
		return
	}
	result, err := h.certificates.Reconcile(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
