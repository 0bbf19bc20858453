package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/database"
	appErrors "github.com/noah-isme/elearning-api/pkg/errors"
	"github.com/noah-isme/elearning-api/pkg/render"
	"github.com/noah-isme/elearning-api/pkg/storage"
)

const (
	numberAllocationAttempts = 3
	numberRandomBytes        = 5
)

type certificateRepository interface {
	Create(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Certificate, error)
	ListByLearner(ctx context.Context, learnerID string) ([]models.Certificate, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
}

type progressionReader interface {
	FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Progression, error)
}

// Renderer turns certificate fields into a document.
type Renderer interface {
	Render(ctx context.Context, fields render.CertificateFields) ([]byte, error)
}

// DocumentStore keeps rendered certificate documents.
type DocumentStore interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadCloser, error)
	Delete(name string) error
}

// LinkSigner issues and verifies download tokens.
type LinkSigner interface {
	Sign(grant storage.DownloadGrant) (string, time.Time, error)
	Verify(token string) (storage.DownloadGrant, error)
}

// CertificateConfig tunes certificate issuance. IssueTimeout bounds one shared issuance,
// independently of the callers waiting on it.
type CertificateConfig struct {
	NumberPrefix     string
	DownloadBasePath string
	IssueTimeout     time.Duration
}

// DownloadLink is a time-limited URL for a stored certificate document.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CertificateDocument is a rendered certificate ready to be served.
type CertificateDocument struct {
	Filename string
	Content  []byte
}

// ReconcileRequest identifies a pair whose issuance should be retried.
type ReconcileRequest struct {
	LearnerID string `json:"learner_id" validate:"required,uuid"`
	CourseID  string `json:"course_id" validate:"required,uuid"`
}

// ReconcileResult reports the certification state of a pair after a retry.
type ReconcileResult struct {
	State       models.CertificationState `json:"state"`
	Certificate *models.Certificate       `json:"certificate,omitempty"`
}

// CertificateService issues and serves certificates. At most one certificate exists per
// learner and course; concurrent triggers in this process share one issuance and the
// storage uniqueness constraint settles races between processes.
type CertificateService struct {
	repo         certificateRepository
	courses      courseReader
	learners     learnerDirectory
	progressions progressionReader
	renderer     Renderer
	store        DocumentStore
	signer       LinkSigner
	notifier     *NotificationService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	config       CertificateConfig

	inflight singleflight.Group
	now      func() time.Time
}

// NewCertificateService constructs CertificateService.
func NewCertificateService(
	repo certificateRepository,
	courses courseReader,
	learners learnerDirectory,
	progressions progressionReader,
	renderer Renderer,
	store DocumentStore,
	signer LinkSigner,
	notifier *NotificationService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	config CertificateConfig,
) *CertificateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.NumberPrefix == "" {
		config.NumberPrefix = "CERT"
	}
	if config.DownloadBasePath == "" {
		config.DownloadBasePath = "/api/v1/certificates/download"
	}
	if config.IssueTimeout <= 0 {
		config.IssueTimeout = 10 * time.Second
	}
	return &CertificateService{
		repo:         repo,
		courses:      courses,
		learners:     learners,
		progressions: progressions,
		renderer:     renderer,
		store:        store,
		signer:       signer,
		notifier:     notifier,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		config:       config,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate returns the certification state implied by a course and progression, ignoring existing certificates.
func Evaluate(course *models.Course, progression *models.Progression) models.CertificationState {
	if course == nil || progression == nil {
		return models.CertificationNotEligible
	}
	if !course.Level.Certifiable() || progression.Percent != models.MaxPercent || !progression.Completed() {
		return models.CertificationNotEligible
	}
	return models.CertificationEligiblePending
}

// GenerateIfEligible issues the certificate for a completed progression. It returns (nil, nil)
// when the pair is not eligible and the existing certificate when one was already issued.
// A missing course or learner is reported as NotFound.
//
// Concurrent calls for a pair share one issuance that runs under its own IssueTimeout. A caller
// whose context ends first gets Unavailable while the shared issuance carries on for the others.
func (s *CertificateService) GenerateIfEligible(ctx context.Context, progression *models.Progression) (*models.Certificate, error) {
	if progression == nil || progression.Percent != models.MaxPercent || !progression.Completed() {
		return nil, nil
	}

	key := progression.LearnerID + ":" + progression.CourseID
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		issueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.IssueTimeout)
		defer cancel()
		return s.issue(issueCtx, progression)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, appErrors.Unavailable(ctx.Err(), "certificate issuance still in progress")
	}
	if res.Err != nil {
		return nil, res.Err
	}
	cert, _ := res.Val.(*models.Certificate)
	if cert == nil {
		return nil, nil
	}
	if res.Shared {
		s.logger.Debug("certificate issuance shared", zap.String("learner_id", progression.LearnerID), zap.String("course_id", progression.CourseID))
	}
	out := *cert
	return &out, nil
}

func (s *CertificateService) issue(ctx context.Context, progression *models.Progression) (*models.Certificate, error) {
	logger := s.logger.With(zap.String("learner_id", progression.LearnerID), zap.String("course_id", progression.CourseID))

	// an issued certificate outlives later changes to the course level
	existing, err := s.repo.FindByLearnerAndCourse(ctx, progression.LearnerID, progression.CourseID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check existing certificate")
	}

	course, err := s.courses.FindByID(ctx, progression.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Warn("certificate issuance skipped: course missing")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if Evaluate(course, progression) != models.CertificationEligiblePending {
		return nil, nil
	}

	learner, err := s.learners.FindByID(ctx, progression.LearnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Warn("certificate issuance skipped: learner missing")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "learner not found")
		}
		return nil, appErrors.Internal(err, "failed to load learner")
	}

	issuedAt := s.now()
	for attempt := 1; attempt <= numberAllocationAttempts; attempt++ {
		number, err := s.allocateNumber(ctx, issuedAt)
		if err != nil {
			return nil, err
		}

		content, err := s.renderer.Render(ctx, fieldsFor(learner, course, number, issuedAt))
		if err != nil {
			s.metrics.IncCertificateDeferred()
			logger.Warn("certificate rendering failed, issuance deferred", zap.Error(err))
			return nil, appErrors.Unavailable(err, "certificate renderer unavailable")
		}
		docPath, err := s.store.Save(documentName(progression.LearnerID, number), content)
		if err != nil {
			s.metrics.IncCertificateDeferred()
			logger.Warn("certificate storage failed, issuance deferred", zap.Error(err))
			return nil, appErrors.Unavailable(err, "certificate storage unavailable")
		}

		cert := &models.Certificate{
			LearnerID:    progression.LearnerID,
			CourseID:     progression.CourseID,
			Number:       number,
			IssuedAt:     issuedAt,
			Valid:        true,
			DocumentPath: docPath,
		}
		err = s.repo.Create(ctx, cert)
		if err == nil {
			s.metrics.IncCertificateIssued()
			s.notifier.Notify(ctx, learner.ID, models.NotificationCertificateIssued,
				fmt.Sprintf("Certificate %s issued for %s", cert.Number, course.Title))
			logger.Info("certificate issued", zap.String("certificate_id", cert.ID), zap.String("number", cert.Number))
			return cert, nil
		}

		s.discardDocument(docPath)
		if !database.IsUniqueViolation(err) {
			return nil, appErrors.Internal(err, "failed to persist certificate")
		}
		winner, findErr := s.repo.FindByLearnerAndCourse(ctx, progression.LearnerID, progression.CourseID)
		if findErr == nil {
			s.metrics.IncCertificateRace()
			logger.Info("certificate issuance lost race", zap.String("certificate_id", winner.ID))
			return winner, nil
		}
		if !errors.Is(findErr, sql.ErrNoRows) {
			return nil, appErrors.Internal(findErr, "failed to load concurrently issued certificate")
		}
		logger.Warn("certificate number collided, reallocating", zap.String("number", number), zap.Int("attempt", attempt))
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique certificate number")
}

// allocateNumber returns a number not yet present in storage.
func (s *CertificateService) allocateNumber(ctx context.Context, issuedAt time.Time) (string, error) {
	for i := 0; i < numberAllocationAttempts; i++ {
		number, err := newCertificateNumber(s.config.NumberPrefix, issuedAt)
		if err != nil {
			return "", appErrors.Internal(err, "failed to generate certificate number")
		}
		taken, err := s.repo.ExistsByNumber(ctx, number)
		if err != nil {
			return "", appErrors.Internal(err, "failed to check certificate number")
		}
		if !taken {
			return number, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique certificate number")
}

func newCertificateNumber(prefix string, issuedAt time.Time) (string, error) {
	buf := make([]byte, numberRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", prefix, issuedAt.Format("20060102"), strings.ToUpper(hex.EncodeToString(buf))), nil
}

func documentName(learnerID, number string) string {
	return path.Join(learnerID, number+".pdf")
}

func fieldsFor(learner *models.User, course *models.Course, number string, issuedAt time.Time) render.CertificateFields {
	return render.CertificateFields{
		RecipientName: learner.DisplayName(),
		CourseTitle:   course.Title,
		Level:         string(course.Level),
		IssuedAt:      issuedAt,
		Number:        number,
	}
}

func (s *CertificateService) discardDocument(name string) {
	if err := s.store.Delete(name); err != nil {
		s.logger.Warn("failed to discard certificate document", zap.String("path", name), zap.Error(err))
	}
}

// ListByUser returns the learner's certificates, including those for courses they later left.
func (s *CertificateService) ListByUser(ctx context.Context, learnerID string) ([]models.Certificate, error) {
	if err := s.validator.Var(learnerID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid learner id")
	}
	certs, err := s.repo.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list certificates")
	}
	if certs == nil {
		certs = []models.Certificate{}
	}
	return certs, nil
}

// GeneratePDF re-renders an issued certificate from current course and learner data.
// The stored record, including its number and date, is never changed.
func (s *CertificateService) GeneratePDF(ctx context.Context, learnerID, certificateID string) (*CertificateDocument, error) {
	cert, err := s.ownedCertificate(ctx, learnerID, certificateID)
	if err != nil {
		return nil, err
	}
	content, err := s.renderExisting(ctx, cert)
	if err != nil {
		return nil, err
	}
	return &CertificateDocument{Filename: cert.Number + ".pdf", Content: content}, nil
}

// DownloadLink signs a time-limited URL for the stored certificate document.
func (s *CertificateService) DownloadLink(ctx context.Context, learnerID, certificateID string) (*DownloadLink, error) {
	cert, err := s.ownedCertificate(ctx, learnerID, certificateID)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Sign(storage.DownloadGrant{
		CertificateID: cert.ID,
		LearnerID:     cert.LearnerID,
		Number:        cert.Number,
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign download link")
	}
	return &DownloadLink{URL: strings.TrimRight(s.config.DownloadBasePath, "/") + "/" + token, ExpiresAt: expiresAt}, nil
}

// ResolveDownload returns the document of the certificate a signed token was issued for. The
// token must still name the certificate's holder and number. A document missing from storage is
// rendered again and stored under the recorded path.
func (s *CertificateService) ResolveDownload(ctx context.Context, token string) (*CertificateDocument, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download link")
	}
	cert, err := s.repo.FindByID(ctx, grant.CertificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Internal(err, "failed to load certificate")
	}
	if cert.LearnerID != grant.LearnerID || cert.Number != grant.Number {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link does not match certificate")
	}

	doc := &CertificateDocument{Filename: cert.Number + ".pdf"}
	file, err := s.store.Open(cert.DocumentPath)
	if err == nil {
		defer file.Close()
		if doc.Content, err = io.ReadAll(file); err != nil {
			return nil, appErrors.Unavailable(err, "failed to read certificate document")
		}
		return doc, nil
	}

	s.logger.Warn("certificate document missing, regenerating", zap.String("certificate_id", cert.ID), zap.Error(err))
	if doc.Content, err = s.renderExisting(ctx, cert); err != nil {
		return nil, err
	}
	if _, err := s.store.Save(cert.DocumentPath, doc.Content); err != nil {
		s.logger.Warn("failed to restore certificate document", zap.String("certificate_id", cert.ID), zap.Error(err))
	}
	return doc, nil
}

// VerifyIntegrity reports whether a certificate's course and learner still exist. It repairs nothing.
func (s *CertificateService) VerifyIntegrity(ctx context.Context, certificateID string) (*models.CertificateIntegrity, error) {
	if err := s.validator.Var(certificateID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid certificate id")
	}
	result := &models.CertificateIntegrity{CertificateID: certificateID}

	cert, err := s.repo.FindByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			result.Message = "certificate not found"
			return result, nil
		}
		return nil, appErrors.Internal(err, "failed to load certificate")
	}
	result.CertificateExists = true

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.courses.FindByID(gctx, cert.CourseID)
		result.CourseExists, err = existence(err)
		return err
	})
	g.Go(func() error {
		_, err := s.learners.FindByID(gctx, cert.LearnerID)
		result.LearnerExists, err = existence(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Internal(err, "failed to verify certificate references")
	}

	switch {
	case result.CourseExists && result.LearnerExists:
		result.Message = "certificate is consistent"
	case !result.CourseExists && !result.LearnerExists:
		result.Message = "course and learner no longer exist"
	case !result.CourseExists:
		result.Message = "course no longer exists"
	default:
		result.Message = "learner no longer exists"
	}
	return result, nil
}

// Reconcile retries issuance for a pair, typically after a timed out or deferred attempt.
func (s *CertificateService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid reconcile payload")
	}
	// unenrolled learners and re-levelled courses keep what was issued
	cert, err := s.repo.FindByLearnerAndCourse(ctx, req.LearnerID, req.CourseID)
	if err == nil {
		return &ReconcileResult{State: models.CertificationIssued, Certificate: cert}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check existing certificate")
	}

	progression, err := s.progressions.FindByLearnerAndCourse(ctx, req.LearnerID, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "progression not found")
		}
		return nil, appErrors.Internal(err, "failed to load progression")
	}
	cert, err = s.GenerateIfEligible(ctx, progression)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return &ReconcileResult{State: models.CertificationNotEligible}, nil
	}
	return &ReconcileResult{State: models.CertificationIssued, Certificate: cert}, nil
}

func (s *CertificateService) ownedCertificate(ctx context.Context, learnerID, certificateID string) (*models.Certificate, error) {
	if err := s.validator.Var(certificateID, "required,uuid"); err != nil {
		return nil, appErrors.Invalid(err, "invalid certificate id")
	}
	cert, err := s.repo.FindByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Internal(err, "failed to load certificate")
	}
	if cert.LearnerID != learnerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "certificate belongs to another learner")
	}
	return cert, nil
}

func (s *CertificateService) renderExisting(ctx context.Context, cert *models.Certificate) ([]byte, error) {
	course, err := s.courses.FindByID(ctx, cert.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	learner, err := s.learners.FindByID(ctx, cert.LearnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "learner not found")
		}
		return nil, appErrors.Internal(err, "failed to load learner")
	}
	content, err := s.renderer.Render(ctx, fieldsFor(learner, course, cert.Number, cert.IssuedAt))
	if err != nil {
		return nil, appErrors.Unavailable(err, "certificate renderer unavailable")
	}
	return content, nil
}

func existence(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}
