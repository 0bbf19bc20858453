package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusInProgress EnrollmentStatus = "IN_PROGRESS"
	EnrollmentStatusDone       EnrollmentStatus = "DONE"
)

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	return s == EnrollmentStatusInProgress || s == EnrollmentStatusDone
}

// Enrollment links a learner to a course. At most one exists per (learner, course).
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	LearnerID  string           `db:"learner_id" json:"learner_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with course info for learner dashboards.
type EnrollmentDetail struct {
	Enrollment
	CourseTitle string      `db:"course_title" json:"course_title"`
	CourseLevel CourseLevel `db:"course_level" json:"course_level"`
}
