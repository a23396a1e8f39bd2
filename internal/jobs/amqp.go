package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
)

const routingPrefix = "job."

// Channel is the subset of *amqp091.Channel the durable queue needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPQueue makes jobs durable across restarts. Enqueue publishes to a topic
// exchange; a single consumer hands deliveries to the local Manager, which
// keeps per-queue ordering, and acks once the job finished.
type AMQPQueue struct {
	ch        Channel
	conn      io.Closer
	exchange  string
	queueName string
	local     *Manager

	publishTimeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// DialAMQP connects to the broker at url and declares the exchange and queue.
func DialAMQP(url, exchange, queueName string, local *Manager) (*AMQPQueue, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("jobs: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("jobs: open channel: %w", err)
	}
	q, err := NewAMQPQueue(ch, conn, exchange, queueName, local)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// NewAMQPQueue declares the topology on an open channel. closer, if set, is
// closed together with the channel.
func NewAMQPQueue(ch Channel, closer io.Closer, exchange, queueName string, local *Manager) (*AMQPQueue, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("jobs: declare exchange %q: %w", exchange, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return nil, fmt.Errorf("jobs: set qos: %w", err)
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("jobs: declare queue %q: %w", queueName, err)
	}
	if err := ch.QueueBind(q.Name, routingPrefix+"#", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("jobs: bind queue %q: %w", q.Name, err)
	}
	return &AMQPQueue{
		ch:             ch,
		conn:           closer,
		exchange:       exchange,
		queueName:      q.Name,
		local:          local,
		publishTimeout: 5 * time.Second,
		done:           make(chan struct{}),
	}, nil
}

// Enqueue publishes job. If the broker is unavailable the job runs locally
// so recovery work is never lost while the process lives.
func (q *AMQPQueue) Enqueue(job domain.Job) {
	id := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{
		"function": "Enqueue",
		"job_id":   id,
		"kind":     job.Kind(),
	})

	body, err := Encode(id, job)
	if err != nil {
		log.WithError(err).Error("Failed to encode job")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.publishTimeout)
	defer cancel()
	err = q.ch.PublishWithContext(ctx, q.exchange, routingPrefix+job.Kind(), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		log.WithError(err).Warn("Publish failed, running job locally")
		q.local.Submit(id, job, nil)
		return
	}
	log.Debug("Published job")
}

// Start consumes deliveries until Close.
func (q *AMQPQueue) Start() error {
	var startErr error
	q.startOnce.Do(func() {
		msgs, err := q.ch.Consume(q.queueName, "", false, false, false, false, nil)
		if err != nil {
			startErr = fmt.Errorf("jobs: consume %q: %w", q.queueName, err)
			return
		}
		q.wg.Add(1)
		go q.consume(msgs)
	})
	return startErr
}

func (q *AMQPQueue) consume(msgs <-chan amqp091.Delivery) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			q.deliver(d)
		}
	}
}

func (q *AMQPQueue) deliver(d amqp091.Delivery) {
	log := logrus.WithFields(logrus.Fields{
		"function":    "deliver",
		"routing_key": d.RoutingKey,
		"message_id":  d.MessageId,
	})

	id, job, err := Decode(d.Body)
	if err != nil {
		log.WithError(err).Error("Dropping undecodable job")
		_ = d.Nack(false, false)
		return
	}

	q.local.Submit(id, job, func(err error) {
		if err == nil {
			_ = d.Ack(false)
			return
		}
		// A job the manager gave up on would fail again right away; dead-letter it.
		requeue := errors.Is(err, context.Canceled)
		log.WithError(err).WithField("requeue", requeue).Warn("Job not completed")
		_ = d.Nack(false, requeue)
	})
}

// Close stops consuming and closes the channel and connection.
func (q *AMQPQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		q.wg.Wait()
		err = q.ch.Close()
		if q.conn != nil {
			if cerr := q.conn.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Compile-time assertion that AMQPQueue implements domain.JobQueue.
var _ domain.JobQueue = (*AMQPQueue)(nil)
