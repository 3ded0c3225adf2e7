package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dunning"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	err  error
	sent []published
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestAMQPExecutorPublishesJob(t *testing.T) {
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	pub := &fakePublisher{}
	exec, err := NewAMQPExecutor(pub,
		WithExchange("billing"),
		WithAMQPClock(dunning.NewManualClock(now)),
		WithJobIDGenerator(func() string { return "job-1" }),
	)
	require.NoError(t, err)

	action := dunning.EmailAction(3, "reminder-2")
	action.Email.Subject = "Invoice overdue"
	detail, err := exec.Execute(context.Background(), dunning.ActionRequest{
		TenantID:          "t1",
		CampaignID:        "c1",
		ExecutionID:       "e1",
		CustomerID:        "cust",
		InvoiceID:         "inv",
		StepNumber:        1,
		Attempt:           2,
		Action:            action,
		OutstandingAmount: 1200,
	})
	require.NoError(t, err)
	assert.Equal(t, "queued email job job-1", detail)

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "billing", sent.exchange)
	assert.Equal(t, "dunning.email", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), sent.msg.DeliveryMode)
	assert.Equal(t, "job-1", sent.msg.MessageId)
	assert.Equal(t, "e1", sent.msg.Headers["execution_id"])

	var job Job
	require.NoError(t, json.Unmarshal(sent.msg.Body, &job))
	assert.Equal(t, "reminder-2", job.TemplateRef)
	assert.Equal(t, "Invoice overdue", job.Subject)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, int64(1200), job.Outstanding)
	assert.Equal(t, now, job.QueuedAt)
}

func TestAMQPExecutorPublishFailure(t *testing.T) {
	exec, err := NewAMQPExecutor(&fakePublisher{err: errors.New("channel closed")})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), dunning.ActionRequest{Action: dunning.SMSAction(0, "t")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestAMQPExecutorRoutingPrefix(t *testing.T) {
	exec, err := NewAMQPExecutor(&fakePublisher{}, WithRoutingPrefix("acme.collections."))
	require.NoError(t, err)
	assert.Equal(t, "acme.collections.suspend_service", exec.RoutingKey(dunning.ActionSuspendService))

	_, err = NewAMQPExecutor(nil)
	assert.Error(t, err)
}
