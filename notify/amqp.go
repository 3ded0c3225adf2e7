package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/goliatone/go-dunning"
)

// DefaultRoutingPrefix prefixes the per-kind queue names.
const DefaultRoutingPrefix = "dunning."

// Publisher is the subset of *amqp.Channel used to queue jobs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Job is the message body published for every action attempt. Delivery
// workers render the template and talk to the actual provider.
type Job struct {
	JobID          string             `json:"job_id"`
	TenantID       string             `json:"tenant_id"`
	CampaignID     string             `json:"campaign_id"`
	ExecutionID    string             `json:"execution_id"`
	CustomerID     string             `json:"customer_id"`
	InvoiceID      string             `json:"invoice_id"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	StepNumber     int                `json:"step_number"`
	Attempt        int                `json:"attempt"`
	Kind           dunning.ActionKind `json:"kind"`
	TemplateRef    string             `json:"template_ref,omitempty"`
	Subject        string             `json:"subject,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Outstanding    int64              `json:"outstanding_amount"`
	Recovered      int64              `json:"recovered_amount"`
	QueuedAt       time.Time          `json:"queued_at"`
}

// AMQPExecutor publishes one job per action attempt. A publish that the
// broker accepts counts as a successful action.
type AMQPExecutor struct {
	publisher Publisher
	exchange  string
	prefix    string
	clock     dunning.Clock
	newID     func() string
	logger    dunning.Logger
}

type AMQPOption func(*AMQPExecutor)

func WithExchange(name string) AMQPOption {
	return func(e *AMQPExecutor) {
		e.exchange = strings.TrimSpace(name)
	}
}

func WithRoutingPrefix(prefix string) AMQPOption {
	return func(e *AMQPExecutor) {
		e.prefix = prefix
	}
}

func WithAMQPClock(clock dunning.Clock) AMQPOption {
	return func(e *AMQPExecutor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithAMQPLogger(logger dunning.Logger) AMQPOption {
	return func(e *AMQPExecutor) {
		e.logger = logger
	}
}

func WithJobIDGenerator(fn func() string) AMQPOption {
	return func(e *AMQPExecutor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func NewAMQPExecutor(publisher Publisher, opts ...AMQPOption) (*AMQPExecutor, error) {
	if publisher == nil {
		return nil, fmt.Errorf("notify: amqp publisher required")
	}
	e := &AMQPExecutor{
		publisher: publisher,
		prefix:    DefaultRoutingPrefix,
		clock:     dunning.SystemClock{},
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = dunning.NormalizeLogger(e.logger)
	return e, nil
}

// RoutingKey returns the routing key (queue name on the default exchange)
// for kind.
func (e *AMQPExecutor) RoutingKey(kind dunning.ActionKind) string {
	return e.prefix + string(kind)
}

func (e *AMQPExecutor) Execute(ctx context.Context, req dunning.ActionRequest) (string, error) {
	job := jobFor(req, e.newID(), e.clock.Now())
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	key := e.RoutingKey(req.Action.Kind)
	err = e.publisher.PublishWithContext(ctx, e.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.JobID,
		Timestamp:    job.QueuedAt,
		Type:         string(req.Action.Kind),
		Headers: amqp.Table{
			"tenant_id":    req.TenantID,
			"execution_id": req.ExecutionID,
			"attempt":      int32(req.Attempt),
		},
		Body: body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish %s job: %w", req.Action.Kind, err)
	}

	dunning.WithLoggerFields(e.logger, map[string]any{
		"execution_id": req.ExecutionID,
		"job_id":       job.JobID,
	}).Debug("queued %s job on %s", req.Action.Kind, key)
	return fmt.Sprintf("queued %s job %s", req.Action.Kind, job.JobID), nil
}

func jobFor(req dunning.ActionRequest, id string, now time.Time) Job {
	job := Job{
		JobID:          id,
		TenantID:       req.TenantID,
		CampaignID:     req.CampaignID,
		ExecutionID:    req.ExecutionID,
		CustomerID:     req.CustomerID,
		InvoiceID:      req.InvoiceID,
		SubscriptionID: req.SubscriptionID,
		StepNumber:     req.StepNumber,
		Attempt:        req.Attempt,
		Kind:           req.Action.Kind,
		TemplateRef:    req.Action.TemplateRef(),
		Outstanding:    req.OutstandingAmount,
		Recovered:      req.RecoveredAmount,
		QueuedAt:       now.UTC(),
	}
	if req.Action.Email != nil {
		job.Subject = req.Action.Email.Subject
	}
	if req.Action.Suspend != nil {
		job.Reason = req.Action.Suspend.Reason
	}
	return job
}

// Connection owns a broker connection and the channel jobs are published on.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to url and declares one durable queue per action kind,
// named with prefix.
func Dial(url, prefix string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if prefix == "" {
		prefix = DefaultRoutingPrefix
	}
	for _, kind := range dunning.ActionKinds() {
		name := prefix + string(kind)
		_, err = channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	return &Connection{conn: conn, channel: channel}, nil
}

// Channel returns the publishing channel.
func (c *Connection) Channel() *amqp.Channel {
	return c.channel
}

func (c *Connection) Close() error {
	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
