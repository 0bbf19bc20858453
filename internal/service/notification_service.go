package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/jobs"
	"github.com/noah-isme/elearning-api/pkg/notify"
)

const notificationJobType = "notification"

type notificationQueue interface {
	Enqueue(job jobs.Job) error
}

type learnerDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

var notificationSubjects = map[models.NotificationType]string{
	models.NotificationCertificateIssued: "Your certificate is ready",
	models.NotificationCourseCompleted:   "Course completed",
	models.NotificationEnrolled:          "Enrollment confirmed",
}

// NotificationService hands learner notifications to a sink. Delivery is fire-and-forget: failures are logged and counted, never returned to the business operation.
type NotificationService struct {
	sink    notify.Sink
	users   learnerDirectory
	queue   notificationQueue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs a NotificationService. Without a queue, Notify delivers inline.
func NewNotificationService(sink notify.Sink, users learnerDirectory, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sink: sink, users: users, metrics: metrics, logger: logger}
}

// UseQueue routes notifications through the given background queue.
func (s *NotificationService) UseQueue(queue notificationQueue) {
	s.queue = queue
}

// Notify emits a notification to the recipient.
func (s *NotificationService) Notify(ctx context.Context, recipientID string, kind models.NotificationType, message string) {
	if s == nil || s.sink == nil {
		return
	}
	n := models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        kind,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if s.queue == nil {
		if err := s.Deliver(ctx, jobs.Job{ID: n.ID, Type: notificationJobType, Payload: n}); err != nil {
			s.metrics.RecordNotification(s.sink.Name(), NotificationResultFailed)
			s.logger.Warn("notification delivery failed", zap.String("notification_id", n.ID), zap.Error(err))
		}
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: n.ID, Type: notificationJobType, Payload: n}); err != nil {
		s.metrics.RecordNotification(s.sink.Name(), NotificationResultDropped)
		s.logger.Warn("notification dropped", zap.String("notification_id", n.ID), zap.String("recipient_id", recipientID), zap.Error(err))
	}
}

// Deliver sends one queued notification. It is the queue handler.
func (s *NotificationService) Deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	msg := notify.Message{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        string(n.Type),
		Subject:     notificationSubjects[n.Type],
		Body:        n.Message,
		CreatedAt:   n.CreatedAt,
	}
	if s.users != nil {
		user, err := s.users.FindByID(ctx, n.RecipientID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			s.logger.Warn("notification recipient not found", zap.String("recipient_id", n.RecipientID))
			s.metrics.RecordNotification(s.sink.Name(), NotificationResultDropped)
			return nil
		case err != nil:
			return fmt.Errorf("resolve notification recipient: %w", err)
		default:
			msg.Email = user.Email
			msg.Name = user.DisplayName()
		}
	}
	if err := s.sink.Send(ctx, msg); err != nil {
		return err
	}
	s.metrics.RecordNotification(s.sink.Name(), NotificationResultSent)
	return nil
}

// DeadLetter records a notification that exhausted its retries.
func (s *NotificationService) DeadLetter(job jobs.Job, err error) {
	s.metrics.RecordNotification(s.sink.Name(), NotificationResultFailed)
	s.logger.Error("notification abandoned", zap.String("notification_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}
