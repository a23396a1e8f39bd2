package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/metrics"
)

// Handler runs one job. Returning backoff.Permanent(err) stops retries.
type Handler func(ctx context.Context, job domain.Job) error

// ErrNoHandler is passed to the completion callback of a job whose kind has
// no registered handler.
var ErrNoHandler = errors.New("jobs: no handler registered")

// Options tune the retry policy of a Manager.
type Options struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Metrics         *metrics.Metrics
}

// DefaultOptions retries a failing job a few times within a minute.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

type task struct {
	id   string
	job  domain.Job
	done func(error)
}

type queue struct {
	mu      sync.Mutex
	pending []task
	wake    chan struct{}
}

// Manager runs jobs in process. Each queue has its own worker goroutine, so
// jobs on one queue run strictly in order while queues progress independently.
type Manager struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	handlers map[string]Handler
	queues   map[string]*queue
	closed   bool
}

// NewManager returns a running Manager.
func NewManager(opts Options) *Manager {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultOptions().InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultOptions().MaxInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		queues:   make(map[string]*queue),
	}
}

// Register sets the handler for a job kind, replacing any previous one.
func (m *Manager) Register(kind string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

// Enqueue schedules job. It never blocks on the job itself.
func (m *Manager) Enqueue(job domain.Job) {
	m.Submit(uuid.NewString(), job, nil)
}

// Submit schedules job and calls done, if set, once it finished or gave up.
func (m *Manager) Submit(id string, job domain.Job, done func(error)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Submit",
			"kind":     job.Kind(),
		}).Warn("Dropping job submitted after close")
		if done != nil {
			done(context.Canceled)
		}
		return
	}
	q, ok := m.queues[job.Queue()]
	if !ok {
		q = &queue{wake: make(chan struct{}, 1)}
		m.queues[job.Queue()] = q
		m.wg.Add(1)
		go m.worker(job.Queue(), q)
	}
	m.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, task{id: id, job: job, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops every worker. Jobs still queued are dropped; durable backends
// redeliver them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) worker(name string, q *queue) {
	defer m.wg.Done()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-m.ctx.Done():
				return
			}
		}
		t := q.pending[0]
		q.pending[0] = task{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := m.run(name, t)
		if t.done != nil {
			t.done(err)
		}
	}
}

func (m *Manager) run(queueName string, t task) error {
	log := logrus.WithFields(logrus.Fields{
		"job_id": t.id,
		"kind":   t.job.Kind(),
		"queue":  queueName,
	})

	m.mu.Lock()
	h, ok := m.handlers[t.job.Kind()]
	m.mu.Unlock()
	if !ok {
		log.Error("No handler registered for job")
		m.opts.Metrics.Job(t.job.Kind(), "unhandled")
		return fmt.Errorf("%w: %s", ErrNoHandler, t.job.Kind())
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.InitialInterval
	policy.MaxInterval = m.opts.MaxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return h(m.ctx, t.job)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, m.opts.MaxAttempts-1), m.ctx))

	if err != nil {
		log.WithError(err).WithField("attempts", attempt).Warn("Job failed")
		m.opts.Metrics.Job(t.job.Kind(), "failed")
		return err
	}
	log.WithField("attempts", attempt).Debug("Job done")
	m.opts.Metrics.Job(t.job.Kind(), "ok")
	return nil
}

// Compile-time assertion that Manager implements domain.JobQueue.
var _ domain.JobQueue = (*Manager)(nil)
