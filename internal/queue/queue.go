// Package queue is the durable, at-least-once batch-job queue backed by
// RabbitMQ. Retry counts travel on the job envelope itself so they stay
// inspectable independently of broker state.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/streadway/amqp"
)

const BatchQueueName = "batch_jobs"

// ErrPaused tells the consumer to re-deliver the job later without
// consuming a retry attempt.
var ErrPaused = errors.New("campaign paused")

// BatchJob is the work envelope for one batch of a campaign.
type BatchJob struct {
	JobID      string `json:"job_id"`
	CampaignID int    `json:"campaign_id"`
	BatchIndex int    `json:"batch_index"`
	MessageIDs []int  `json:"message_ids"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// JobID derives a deterministic, unique job identifier so duplicate
// enqueue attempts for the same dispatch do not double-create jobs.
func JobID(campaignID, batchIndex int, enqueuedAt time.Time) string {
	return fmt.Sprintf("%d:%d:%d", campaignID, batchIndex, enqueuedAt.Unix())
}

// Backoff is the delay before re-delivering a job on its given attempt:
// base * 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * (1 << uint(attempt))
}

// BatchPublisher is what the dispatch service depends on.
type BatchPublisher interface {
	PublishBatch(job BatchJob) error
}

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareBatchQueue(ch); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) PublishBatch(job BatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.ch.Publish(
		"",             // default exchange
		BatchQueueName, // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.JobID,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func declareBatchQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		BatchQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// Consumer pulls batch jobs and drives the retry/backoff loop. A handler
// error re-publishes the job with Attempt+1 after an exponential delay;
// once MaxAttempts is reached the terminal callback runs instead.
type Consumer struct {
	ch          *amqp.Channel
	MaxAttempts int
	BackoffBase time.Duration
	Concurrency int

	// republishFn overrides the broker republish in tests.
	republishFn func(job BatchJob) error
}

func NewConsumer(conn *amqp.Connection, maxAttempts int, backoffBase time.Duration, concurrency int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareBatchQueue(ch); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return &Consumer{
		ch:          ch,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		Concurrency: concurrency,
	}, nil
}

// Start blocks, running Concurrency goroutines over the delivery stream.
func (c *Consumer) Start(handler func(job BatchJob) error, terminal func(job BatchJob, lastErr error)) error {
	msgs, err := c.ch.Consume(
		BatchQueueName,
		"",    // consumer tag
		false, // autoAck off for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	done := make(chan struct{})
	for i := 0; i < c.Concurrency; i++ {
		go func() {
			for d := range msgs {
				c.handleDelivery(d, handler, terminal)
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < c.Concurrency; i++ {
		<-done
	}
	return nil
}

// acknowledger is the slice of amqp.Delivery the retry loop needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handleDelivery(d amqp.Delivery, handler func(job BatchJob) error, terminal func(job BatchJob, lastErr error)) {
	var job BatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Println("⚠️ Invalid job payload, dropping:", err)
		d.Ack(false)
		return
	}
	c.runJob(job, d, handler, terminal)
}

// runJob drives the retry/backoff decision for one delivery. Attempt 0 is
// the first run, so a job is handled exactly MaxAttempts times before the
// terminal callback fires.
func (c *Consumer) runJob(job BatchJob, d acknowledger, handler func(job BatchJob) error, terminal func(job BatchJob, lastErr error)) {
	err := handler(job)
	if err == nil {
		d.Ack(false)
		return
	}

	if errors.Is(err, ErrPaused) {
		// Best-effort pause: re-deliver later without burning an attempt.
		log.Printf("Job %s paused, re-queueing\n", job.JobID)
		time.Sleep(c.BackoffBase)
		if pubErr := c.republish(job); pubErr != nil {
			log.Println("⚠️ Failed to re-queue paused job:", pubErr)
			d.Nack(false, true)
			return
		}
		d.Ack(false)
		return
	}

	nextAttempt := job.Attempt + 1
	if nextAttempt >= c.MaxAttempts {
		log.Printf("Job %s permanently failed after %d attempts: %v\n", job.JobID, c.MaxAttempts, err)
		terminal(job, err)
		d.Ack(false)
		return
	}

	delay := Backoff(c.BackoffBase, job.Attempt)
	log.Printf("Job %s failed (attempt %d/%d), retrying in %s: %v\n", job.JobID, nextAttempt, c.MaxAttempts, delay, err)
	time.Sleep(delay)

	job.Attempt = nextAttempt
	if pubErr := c.republish(job); pubErr != nil {
		log.Println("⚠️ Failed to re-queue job, leaving for broker redelivery:", pubErr)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (c *Consumer) republish(job BatchJob) error {
	if c.republishFn != nil {
		return c.republishFn(job)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.ch.Publish("", BatchQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.JobID,
		Body:         body,
	})
}
