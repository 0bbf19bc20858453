package models

import "time"

// CertificationState is the per learner-course issuance state.
type CertificationState string

// Certification states.
const (
	CertificationNotEligible     CertificationState = "NOT_ELIGIBLE"
	CertificationEligiblePending CertificationState = "ELIGIBLE_PENDING"
	CertificationIssued          CertificationState = "ISSUED"
)

// Certificate is the immutable proof of completion. One exists per (learner, course) at most.
type Certificate struct {
	ID           string    `db:"id" json:"id"`
	LearnerID    string    `db:"learner_id" json:"learner_id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	Number       string    `db:"number" json:"number"`
	IssuedAt     time.Time `db:"issued_at" json:"issued_at"`
	Valid        bool      `db:"valid" json:"valid"`
	DocumentPath string    `db:"document_path" json:"document_path"`
}

// CertificateIntegrity reports whether a certificate's references still resolve.
type CertificateIntegrity struct {
	CertificateID     string `json:"certificate_id"`
	CertificateExists bool   `json:"certificate_exists"`
	CourseExists      bool   `json:"course_exists"`
	LearnerExists     bool   `json:"learner_exists"`
	Message           string `json:"message"`
}
