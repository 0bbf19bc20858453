package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/internal/repository"
	"github.com/noah-isme/elearning-api/pkg/database"
	"github.com/noah-isme/elearning-api/pkg/render"
	"github.com/noah-isme/elearning-api/pkg/storage"
)

// memStore mimics the Postgres schema, including its uniqueness constraints.
type memStore struct {
	mu           sync.Mutex
	courses      map[string]models.Course
	users        map[string]models.User
	enrollments  map[string]models.Enrollment
	roster       map[string]bool
	progressions map[string]models.Progression
	certificates map[string]models.Certificate

	progressionInitErr error
	numberCollisions   int
	numberViolations   int
	beforeCertCreate   func()
	certCreates        int32
}

func newMemStore() *memStore {
	return &memStore{
		courses:      map[string]models.Course{},
		users:        map[string]models.User{},
		enrollments:  map[string]models.Enrollment{},
		roster:       map[string]bool{},
		progressions: map[string]models.Progression{},
		certificates: map[string]models.Certificate{},
	}
}

func pairKey(learnerID, courseID string) string { return learnerID + "|" + courseID }

func (m *memStore) addCourse(level models.CourseLevel, open bool) models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := models.Course{ID: uuid.NewString(), Title: "Course " + string(level), Level: level, DurationMinutes: 60, Modules: []string{}}
	if open {
		c.Published = true
		c.ApprovalStatus = models.ApprovalApproved
	} else {
		c.ApprovalStatus = models.ApprovalPending
	}
	m.courses[c.ID] = c
	return c
}

func (m *memStore) addLearner(name string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{ID: uuid.NewString(), FullName: name, Email: name + "@example.com", Role: models.RoleLearner, Active: true}
	m.users[u.ID] = u
	return u
}

func (m *memStore) certificateCount(learnerID, courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.certificates {
		if c.LearnerID == learnerID && c.CourseID == courseID {
			n++
		}
	}
	return n
}

type memCourses struct{ *memStore }

func (m memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (m memCourses) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Course
	for _, c := range m.courses {
		if filter.Level != "" && c.Level != filter.Level {
			continue
		}
		if filter.Published != nil && c.Published != *filter.Published {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, len(out), nil
}

func (m memCourses) Create(ctx context.Context, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	course.ID = uuid.NewString()
	m.courses[course.ID] = *course
	return nil
}

func (m memCourses) Update(ctx context.Context, course *models.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[course.ID] = *course
	return nil
}

func (m memCourses) SetPublication(ctx context.Context, id string, published bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.courses[id]
	c.Published = published
	m.courses[id] = c
	return nil
}

func (m memCourses) SetApproval(ctx context.Context, id string, status models.ApprovalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.courses[id]
	c.ApprovalStatus = status
	m.courses[id] = c
	return nil
}

type memUsers struct{ *memStore }

func (m memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

type memEnrollments struct{ *memStore }

func (m memEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (m memEnrollments) FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.LearnerID == learnerID && e.CourseID == courseID {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memEnrollments) ListByLearner(ctx context.Context, learnerID string) ([]models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if e.LearnerID == learnerID {
			c := m.courses[e.CourseID]
			out = append(out, models.EnrollmentDetail{Enrollment: e, CourseTitle: c.Title, CourseLevel: c.Level})
		}
	}
	return out, nil
}

func (m memEnrollments) CreateWithProgression(ctx context.Context, enrollment *models.Enrollment, progression *models.Progression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.LearnerID == enrollment.LearnerID && e.CourseID == enrollment.CourseID {
			return fmt.Errorf("create enrollment: %w", database.ErrUniqueViolation)
		}
	}
	if m.progressionInitErr != nil {
		return fmt.Errorf("initialize progression: %w", m.progressionInitErr)
	}
	now := time.Now().UTC()
	enrollment.ID = uuid.NewString()
	enrollment.EnrolledAt, enrollment.UpdatedAt = now, now
	m.enrollments[enrollment.ID] = *enrollment
	m.roster[pairKey(enrollment.LearnerID, enrollment.CourseID)] = true
	key := pairKey(enrollment.LearnerID, enrollment.CourseID)
	id := uuid.NewString()
	if existing, ok := m.progressions[key]; ok {
		id = existing.ID
	}
	*progression = models.Progression{ID: id, LearnerID: enrollment.LearnerID, CourseID: enrollment.CourseID, StartedAt: now, UpdatedAt: now}
	m.progressions[key] = *progression
	return nil
}

func (m memEnrollments) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.enrollments[id]
	e.Status = status
	m.enrollments[id] = e
	return nil
}

func (m memEnrollments) DeleteWithProgression(ctx context.Context, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(enrollment.LearnerID, enrollment.CourseID)
	delete(m.progressions, key)
	delete(m.roster, key)
	delete(m.enrollments, enrollment.ID)
	return nil
}

type memProgressions struct{ *memStore }

func (m *memStore) enrolledLocked(learnerID, courseID string) bool {
	for _, e := range m.enrollments {
		if e.LearnerID == learnerID && e.CourseID == courseID {
			return true
		}
	}
	return false
}

func (m memProgressions) Initialize(ctx context.Context, learnerID, courseID string) (*models.Progression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(learnerID, courseID)
	if p, ok := m.progressions[key]; ok {
		return &p, nil
	}
	now := time.Now().UTC()
	p := models.Progression{ID: uuid.NewString(), LearnerID: learnerID, CourseID: courseID, StartedAt: now, UpdatedAt: now}
	m.progressions[key] = p
	return &p, nil
}

func (m memProgressions) FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Progression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progressions[pairKey(learnerID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (m memProgressions) ListByLearner(ctx context.Context, learnerID string) ([]models.Progression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Progression
	for _, p := range m.progressions {
		if p.LearnerID == learnerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m memProgressions) List(ctx context.Context, filter models.ProgressionFilter) ([]models.Progression, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Progression
	for _, p := range m.progressions {
		if filter.LearnerID != "" && p.LearnerID != filter.LearnerID {
			continue
		}
		if filter.CourseID != "" && p.CourseID != filter.CourseID {
			continue
		}
		out = append(out, p)
	}
	total := len(out)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start > total {
			start = total
		}
		end := start + filter.PageSize
		if end > total {
			end = total
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (m memProgressions) Aggregate(ctx context.Context, learnerID string) (*repository.ProgressAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := &repository.ProgressAggregate{}
	sum := 0
	for _, p := range m.progressions {
		if p.LearnerID != learnerID {
			continue
		}
		agg.Courses++
		sum += p.Percent
		if p.CompletedAt != nil {
			agg.Completed++
		}
	}
	if agg.Courses > 0 {
		agg.Average = float64(sum) / float64(agg.Courses)
	}
	return agg, nil
}

func (m memProgressions) ApplyPercent(ctx context.Context, learnerID, courseID string, percent int) (*repository.PercentUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(learnerID, courseID)
	p, ok := m.progressions[key]
	if !ok || !m.enrolledLocked(learnerID, courseID) {
		return nil, sql.ErrNoRows
	}
	now := time.Now().UTC()
	justCompleted := percent == models.MaxPercent && p.CompletedAt == nil
	p.Percent = percent
	p.UpdatedAt = now
	if justCompleted {
		p.CompletedAt = &now
		for id, e := range m.enrollments {
			if e.LearnerID == learnerID && e.CourseID == courseID {
				e.Status = models.EnrollmentStatusDone
				m.enrollments[id] = e
			}
		}
	}
	m.progressions[key] = p
	out := p
	return &repository.PercentUpdate{Progression: &out, JustCompleted: justCompleted}, nil
}

type memCertificates struct{ *memStore }

func (m memCertificates) Create(ctx context.Context, cert *models.Certificate) error {
	if m.beforeCertCreate != nil {
		m.beforeCertCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numberViolations > 0 {
		m.numberViolations--
		return fmt.Errorf("create certificate (certificates_number_key): %w", database.ErrUniqueViolation)
	}
	for _, c := range m.certificates {
		if c.LearnerID == cert.LearnerID && c.CourseID == cert.CourseID {
			return fmt.Errorf("create certificate (certificates_learner_course_key): %w", database.ErrUniqueViolation)
		}
		if c.Number == cert.Number {
			return fmt.Errorf("create certificate (certificates_number_key): %w", database.ErrUniqueViolation)
		}
	}
	cert.ID = uuid.NewString()
	m.certificates[cert.ID] = *cert
	atomic.AddInt32(&m.certCreates, 1)
	return nil
}

func (m memCertificates) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certificates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (m memCertificates) FindByLearnerAndCourse(ctx context.Context, learnerID, courseID string) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certificates {
		if c.LearnerID == learnerID && c.CourseID == courseID {
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memCertificates) ListByLearner(ctx context.Context, learnerID string) ([]models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Certificate
	for _, c := range m.certificates {
		if c.LearnerID == learnerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m memCertificates) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numberCollisions > 0 {
		m.numberCollisions--
		return true, nil
	}
	for _, c := range m.certificates {
		if c.Number == number {
			return true, nil
		}
	}
	return false, nil
}

// countingRenderer wraps a renderer and can be made to fail.
type countingRenderer struct {
	inner Renderer
	calls int32
	fail  atomic.Bool
	delay time.Duration
}

func (r *countingRenderer) Render(ctx context.Context, fields render.CertificateFields) ([]byte, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.fail.Load() {
		return nil, fmt.Errorf("renderer offline")
	}
	if r.inner == nil {
		return []byte("%PDF " + fields.Number), nil
	}
	return r.inner.Render(ctx, fields)
}

type memDocuments struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemDocuments() *memDocuments { return &memDocuments{docs: map[string][]byte{}} }

func (d *memDocuments) Save(name string, data []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[name] = append([]byte(nil), data...)
	return name, nil
}

func (d *memDocuments) Open(name string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.docs[name]
	if !ok {
		return nil, fmt.Errorf("open %s: not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *memDocuments) Delete(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, name)
	return nil
}

func (d *memDocuments) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs)
}

// pipeline wires the services over one memStore the way main does over Postgres.
type pipeline struct {
	store       *memStore
	renderer    *countingRenderer
	docs        *memDocuments
	metrics     *MetricsService
	courses     *CourseService
	enrollments *EnrollmentService
	progress    *ProgressionService
	certs       *CertificateService
}

func newPipeline(store *memStore) *pipeline {
	p := &pipeline{
		store:    store,
		renderer: &countingRenderer{},
		docs:     newMemDocuments(),
		metrics:  NewMetricsService(),
	}
	users := memUsers{store}
	notifier := NewNotificationService(nil, users, p.metrics, nil)
	p.courses = NewCourseService(memCourses{store}, nil, nil)
	p.certs = NewCertificateService(memCertificates{store}, memCourses{store}, users, memProgressions{store},
		p.renderer, p.docs, storage.NewDownloadSigner("test-secret", time.Hour), notifier, p.metrics, nil, nil,
		CertificateConfig{NumberPrefix: "CERT"})
	p.progress = NewProgressionService(memProgressions{store}, p.certs, nil, notifier, p.metrics, nil, nil, ProgressionConfig{IssueTimeout: time.Second})
	p.enrollments = NewEnrollmentService(memEnrollments{store}, memCourses{store}, users, nil, notifier, p.metrics, nil, nil)
	return p
}

func percent(v int) *int { return &v }
