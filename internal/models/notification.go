package models

import "time"

// NotificationType classifies learner notifications.
type NotificationType string

// Notification types.
const (
	NotificationCertificateIssued NotificationType = "CERTIFICATE_ISSUED"
	NotificationCourseCompleted   NotificationType = "COURSE_COMPLETED"
	NotificationEnrolled          NotificationType = "ENROLLED"
)

// Notification is a fire-and-forget message to a learner.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	Type        NotificationType `json:"type"`
	Message     string           `json:"message"`
	CreatedAt   time.Time        `json:"created_at"`
}
