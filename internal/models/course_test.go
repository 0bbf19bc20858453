package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourseLevelOrdering(t *testing.T) {
	assert.Less(t, CourseLevelAlfa.Rank(), CourseLevelBeta.Rank())
	assert.Less(t, CourseLevelBeta.Rank(), CourseLevelGamma.Rank())
	assert.Less(t, CourseLevelGamma.Rank(), CourseLevelDelta.Rank())
	assert.False(t, CourseLevel("OMEGA").Valid())
}

func TestCourseLevelCertifiable(t *testing.T) {
	assert.False(t, CourseLevelAlfa.Certifiable())
	assert.True(t, CourseLevelBeta.Certifiable())
	assert.True(t, CourseLevelDelta.Certifiable())
	assert.False(t, CourseLevel("").Certifiable())
}

func TestCourseOpenForEnrollment(t *testing.T) {
	course := &Course{Published: true, ApprovalStatus: ApprovalApproved}
	assert.True(t, course.OpenForEnrollment())

	course.ApprovalStatus = ApprovalPending
	assert.False(t, course.OpenForEnrollment())

	course = &Course{Published: false, ApprovalStatus: ApprovalApproved}
	assert.False(t, course.OpenForEnrollment())

	var missing *Course
	assert.False(t, missing.OpenForEnrollment())
}
