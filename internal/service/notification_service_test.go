package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/elearning-api/internal/models"
	"github.com/noah-isme/elearning-api/pkg/jobs"
	"github.com/noah-isme/elearning-api/pkg/notify"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type fullQueue struct{}

func (fullQueue) Enqueue(job jobs.Job) error { return jobs.ErrQueueFull }

func TestNotificationServiceDeliversInline(t *testing.T) {
	store := newMemStore()
	learner := store.addLearner("ana")
	sink := &recordingSink{}
	metrics := NewMetricsService()
	svc := NewNotificationService(sink, memUsers{store}, metrics, nil)

	svc.Notify(context.Background(), learner.ID, models.NotificationCertificateIssued, "Certificate CERT-1 issued")

	require.Len(t, sink.sent, 1)
	msg := sink.sent[0]
	assert.Equal(t, learner.Email, msg.Email)
	assert.Equal(t, "ana", msg.Name)
	assert.Equal(t, "Your certificate is ready", msg.Subject)
	assert.Equal(t, string(models.NotificationCertificateIssued), msg.Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notificationsSent.WithLabelValues("recording", NotificationResultSent)))
}

func TestNotificationServiceFailuresNeverPropagate(t *testing.T) {
	store := newMemStore()
	learner := store.addLearner("ana")
	sink := &recordingSink{err: errors.New("smtp down")}
	metrics := NewMetricsService()
	svc := NewNotificationService(sink, memUsers{store}, metrics, nil)

	svc.Notify(context.Background(), learner.ID, models.NotificationEnrolled, "hi")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notificationsSent.WithLabelValues("recording", NotificationResultFailed)))

	svc.UseQueue(fullQueue{})
	svc.Notify(context.Background(), learner.ID, models.NotificationEnrolled, "hi")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notificationsSent.WithLabelValues("recording", NotificationResultDropped)))

	svc.DeadLetter(jobs.Job{ID: "n1", Attempt: 3}, errors.New("smtp down"))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.notificationsSent.WithLabelValues("recording", NotificationResultFailed)))
}

func TestNotificationServiceThroughQueue(t *testing.T) {
	store := newMemStore()
	learner := store.addLearner("ana")
	sink := &recordingSink{}
	svc := NewNotificationService(sink, memUsers{store}, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	queue := jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		defer wg.Done()
		return svc.Deliver(ctx, job)
	}, jobs.QueueConfig{Workers: 1})
	queue.Start(context.Background())
	defer queue.Stop()
	svc.UseQueue(queue)

	svc.Notify(context.Background(), learner.ID, models.NotificationCourseCompleted, "done")
	wg.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.sent, 1)
	assert.Equal(t, learner.ID, sink.sent[0].RecipientID)
}

func TestNotificationServiceDropsUnknownRecipient(t *testing.T) {
	store := newMemStore()
	sink := &recordingSink{}
	svc := NewNotificationService(sink, memUsers{store}, nil, nil)

	err := svc.Deliver(context.Background(), jobs.Job{ID: "n1", Payload: models.Notification{ID: "n1", RecipientID: "ghost"}})
	require.NoError(t, err)
	assert.Empty(t, sink.sent)
}
