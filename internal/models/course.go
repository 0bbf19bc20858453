package models

import (
	"time"

	"github.com/lib/pq"
)

// CourseLevel is the difficulty tier of a course. Tiers are ordered ALFA < BETA < GAMMA < DELTA.
type CourseLevel string

// Course levels.
const (
	CourseLevelAlfa  CourseLevel = "ALFA"
	CourseLevelBeta  CourseLevel = "BETA"
	CourseLevelGamma CourseLevel = "GAMMA"
	CourseLevelDelta CourseLevel = "DELTA"
)

var courseLevelRank = map[CourseLevel]int{
	CourseLevelAlfa:  1,
	CourseLevelBeta:  2,
	CourseLevelGamma: 3,
	CourseLevelDelta: 4,
}

// EntryLevel is the lowest tier; it never yields certificates.
const EntryLevel = CourseLevelAlfa

// Rank returns the ordinal of the level, 0 when unknown.
func (l CourseLevel) Rank() int {
	return courseLevelRank[l]
}

// Valid reports whether l is a known level.
func (l CourseLevel) Valid() bool {
	return l.Rank() > 0
}

// Certifiable reports whether completing a course at this level earns a certificate.
func (l CourseLevel) Certifiable() bool {
	return l.Rank() > EntryLevel.Rank()
}

// ApprovalStatus tracks the editorial review of a course.
type ApprovalStatus string

// Approval statuses.
const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Course is a catalog entry.
type Course struct {
	ID              string         `db:"id" json:"id"`
	Title           string         `db:"title" json:"title"`
	DurationMinutes int            `db:"duration_minutes" json:"duration_minutes"`
	Level           CourseLevel    `db:"level" json:"level"`
	DomainID        *string        `db:"domain_id" json:"domain_id,omitempty"`
	Published       bool           `db:"published" json:"published"`
	ApprovalStatus  ApprovalStatus `db:"approval_status" json:"approval_status"`
	Modules         pq.StringArray `db:"modules" json:"modules"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// OpenForEnrollment reports whether learners may enroll.
func (c *Course) OpenForEnrollment() bool {
	return c != nil && c.Published && c.ApprovalStatus == ApprovalApproved
}

// CourseFilter narrows catalog listings.
type CourseFilter struct {
	Level          CourseLevel
	Published      *bool
	ApprovalStatus ApprovalStatus
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
