package models

import "time"

// Progress bounds.
const (
	MinPercent = 0
	MaxPercent = 100
)

// Progression tracks how much of a course a learner has consumed.
type Progression struct {
	ID          string     `db:"id" json:"id"`
	LearnerID   string     `db:"learner_id" json:"learner_id"`
	CourseID    string     `db:"course_id" json:"course_id"`
	Percent     int        `db:"percent" json:"percent"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Completed reports whether the completion timestamp has been stamped.
func (p *Progression) Completed() bool {
	return p != nil && p.CompletedAt != nil
}

// ProgressionFilter narrows the admin listing of progressions.
type ProgressionFilter struct {
	LearnerID string
	CourseID  string
	Completed *bool
	Page      int
	PageSize  int
}

// GlobalProgress is the mean completion across all of a learner's courses.
type GlobalProgress struct {
	LearnerID string  `json:"learner_id"`
	Courses   int     `json:"courses"`
	Completed int     `json:"completed"`
	Percent   float64 `json:"percent"`
}
