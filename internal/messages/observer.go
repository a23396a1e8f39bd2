package messages

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/jobs"
	"courier/internal/metrics"
	"courier/internal/transport"
)

// ErrAlreadyStarted is returned when the retrieval loop of an observer is
// started a second time.
var ErrAlreadyStarted = errors.New("messages: observer already started")

// ObserverConfig holds the timing of the retrieval loop.
type ObserverConfig struct {
	// WaitTimeout bounds how long the loop sleeps waiting for a state change
	// before it re-checks whether a connection is needed.
	WaitTimeout time.Duration
	// ReadTimeout bounds one read from the transport.
	ReadTimeout time.Duration
	// MaxBackoff caps the pause after repeated connection failures.
	MaxBackoff time.Duration
}

// DefaultObserverConfig returns the production timings.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		WaitTimeout: 60 * time.Second,
		ReadTimeout: time.Minute,
		MaxBackoff:  30 * time.Second,
	}
}

// IncomingMessageObserver owns the connection to the relay. It keeps the
// stream open while a connection is necessary, hands every envelope to the
// processor in order, and tracks when the network and decryption backlogs
// have drained.
type IncomingMessageObserver struct {
	cfg       ObserverConfig
	transport domain.Transport
	processor *IncomingMessageProcessor
	queue     domain.JobQueue
	account   domain.AccountState
	network   domain.NetworkMonitor
	metrics   *metrics.Metrics
	log       *logrus.Entry

	// sleep pauses between failed connection attempts.
	sleep func(ctx context.Context, d time.Duration) error

	mu                sync.Mutex
	changed           chan struct{}
	appVisible        bool
	networkDrained    bool
	decryptionDrained bool
	listeners         []func()

	terminated atomic.Bool
	started    atomic.Bool
	done       chan struct{}
}

// NewIncomingMessageObserver returns an observer. Nothing runs until Start
// or Run is called.
func NewIncomingMessageObserver(
	cfg ObserverConfig,
	t domain.Transport,
	processor *IncomingMessageProcessor,
	queue domain.JobQueue,
	account domain.AccountState,
	network domain.NetworkMonitor,
	m *metrics.Metrics,
) *IncomingMessageObserver {
	def := DefaultObserverConfig()
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &IncomingMessageObserver{
		cfg:       cfg,
		transport: t,
		processor: processor,
		queue:     queue,
		account:   account,
		network:   network,
		metrics:   m,
		log:       logrus.WithField("component", "observer"),
		sleep:     sleepContext,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the retrieval loop in its own goroutine.
func (o *IncomingMessageObserver) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go o.run(ctx)
	return nil
}

// Run executes the retrieval loop on the calling goroutine until the
// observer is terminated or ctx ends.
func (o *IncomingMessageObserver) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	o.run(ctx)
	return nil
}

// Done is closed when the retrieval loop has exited.
func (o *IncomingMessageObserver) Done() <-chan struct{} {
	return o.done
}

func (o *IncomingMessageObserver) run(ctx context.Context) {
	defer close(o.done)
	o.log.Info("Retrieval loop started")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = o.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempts := 0
	for !o.stopping(ctx) {
		if attempts == 0 {
			bo.Reset()
		}
		if attempts > 1 {
			wait := bo.NextBackOff()
			if wait > o.cfg.MaxBackoff {
				wait = o.cfg.MaxBackoff
			}
			o.log.WithFields(logrus.Fields{
				"attempts": attempts,
				"backoff":  wait,
			}).Warn("Too many failed connection attempts, backing off")
			if err := o.sleep(ctx, wait); err != nil {
				break
			}
		}

		if !o.waitForConnectionNecessary(ctx) {
			break
		}
		attempts = o.retrieve(ctx, attempts)
	}
	o.log.Warn("Retrieval loop terminated")
}

// retrieve holds one connection open while it is necessary and returns the
// updated failure count.
func (o *IncomingMessageObserver) retrieve(ctx context.Context, attempts int) int {
	o.log.Info("Making websocket connection")
	o.metrics.ConnectionAttempt()
	defer func() {
		o.log.Debug("Shutting down pipe")
		o.transport.Disconnect()
	}()

	if err := o.transport.Connect(ctx); err != nil {
		o.metrics.ConnectionFailure()
		o.log.WithError(err).Warn("Connect failed")
		return attempts + 1
	}

	for o.isConnectionNecessary() && !o.stopping(ctx) {
		got, err := o.transport.ReadOrEmpty(ctx, o.cfg.ReadTimeout, func(env domain.Envelope) {
			o.process(ctx, env)
		})
		switch {
		case err == nil:
			attempts = 0
			if !got {
				o.markNetworkDrained()
			}
		case errors.Is(err, transport.ErrUnavailable):
			o.log.Info("Pipe unexpectedly unavailable, connecting")
			if err := o.transport.Connect(ctx); err != nil {
				o.metrics.ConnectionFailure()
				o.log.WithError(err).Warn("Reconnect failed")
				// Unavailability is not a failure; the next Connect counts.
				return attempts
			}
		case errors.Is(err, transport.ErrTimeout):
			o.log.Debug("Application level read timeout")
			attempts = 0
		default:
			if o.stopping(ctx) {
				return attempts
			}
			o.metrics.ConnectionFailure()
			o.log.WithError(err).Warn("Retrieval failed")
			return attempts + 1
		}
	}
	return attempts
}

func (o *IncomingMessageObserver) process(ctx context.Context, env domain.Envelope) {
	log := o.log.WithFields(logrus.Fields{
		"timestamp": env.Timestamp,
		"type":      env.Type.String(),
	})
	log.Debug("Retrieved envelope")

	p := o.processor.Acquire()
	defer p.Release()
	result, err := p.ProcessEnvelope(ctx, env)
	if err != nil {
		log.WithField("state", result.State.String()).WithError(err).Error("Failed to store envelope")
	}
}

func (o *IncomingMessageObserver) markNetworkDrained() {
	o.mu.Lock()
	if o.networkDrained {
		o.mu.Unlock()
		return
	}
	o.networkDrained = true
	o.mu.Unlock()

	o.log.Info("Network newly drained, enqueuing decryption drain job")
	o.metrics.Drained("network")
	o.queue.Enqueue(jobs.DecryptionDrainedJob{})
}

func (o *IncomingMessageObserver) stopping(ctx context.Context) bool {
	return o.terminated.Load() || ctx.Err() != nil
}

// waitForConnectionNecessary blocks until a connection is needed. It
// reports false when the observer stops first.
func (o *IncomingMessageObserver) waitForConnectionNecessary(ctx context.Context) bool {
	for {
		o.mu.Lock()
		necessary := o.connectionNecessaryLocked()
		changed := o.changed
		o.mu.Unlock()

		if o.stopping(ctx) {
			return false
		}
		if necessary {
			return true
		}

		timer := time.NewTimer(o.cfg.WaitTimeout)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
}

func (o *IncomingMessageObserver) isConnectionNecessary() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connectionNecessaryLocked()
}

func (o *IncomingMessageObserver) connectionNecessaryLocked() bool {
	registered := o.account.IsRegistered()
	pushEnabled := o.account.IsPushEnabled()
	hasNetwork := o.network.IsAvailable()

	o.log.WithFields(logrus.Fields{
		"network":    hasNetwork,
		"foreground": o.appVisible,
		"push":       pushEnabled,
		"registered": registered,
	}).Trace("Checking connection necessity")

	return registered && (o.appVisible || !pushEnabled) && hasNetwork
}

// broadcastLocked wakes every goroutine waiting for a state change.
func (o *IncomingMessageObserver) broadcastLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

// AppForegrounded records that the app became visible.
func (o *IncomingMessageObserver) AppForegrounded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appVisible = true
	o.broadcastLocked()
}

// AppBackgrounded records that the app is no longer visible.
func (o *IncomingMessageObserver) AppBackgrounded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appVisible = false
	o.broadcastLocked()
}

// RegistrationChanged re-evaluates whether a connection is needed.
func (o *IncomingMessageObserver) RegistrationChanged() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcastLocked()
}

// NetworkChanged re-evaluates connectivity. Losing the network clears both
// drained flags and closes the stream, so drain status is derived again
// after the next connection.
func (o *IncomingMessageObserver) NetworkChanged() {
	o.mu.Lock()
	lost := !o.network.IsAvailable()
	if lost {
		o.log.Warn("Lost network connection, resetting drained state")
		o.networkDrained = false
		o.decryptionDrained = false
	}
	o.broadcastLocked()
	o.mu.Unlock()

	// Disconnect may block on the socket; state readers must not wait on it.
	if lost {
		o.transport.Disconnect()
	}
}

// TerminateAsync stops the observer without waiting for the loop to exit.
// It is idempotent.
func (o *IncomingMessageObserver) TerminateAsync() {
	if !o.terminated.CompareAndSwap(false, true) {
		return
	}
	go func() {
		o.log.Warn("Beginning termination")
		o.transport.Disconnect()
		o.mu.Lock()
		o.broadcastLocked()
		o.mu.Unlock()
	}()
}

// AddDecryptionDrainedListener registers fn for the next drain. When
// decryption has already drained, fn runs immediately as well.
func (o *IncomingMessageObserver) AddDecryptionDrainedListener(fn func()) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	drained := o.decryptionDrained
	o.mu.Unlock()

	if drained {
		fn()
	}
}

// NotifyDecryptionsDrained marks decryption as drained once the network has
// drained. Listeners run outside the lock, once per drain.
func (o *IncomingMessageObserver) NotifyDecryptionsDrained() {
	o.mu.Lock()
	if !o.networkDrained || o.decryptionDrained {
		o.mu.Unlock()
		return
	}
	o.decryptionDrained = true
	trigger := make([]func(), len(o.listeners))
	copy(trigger, o.listeners)
	o.mu.Unlock()

	o.log.Info("Decryptions newly drained")
	o.metrics.Drained("decryption")
	for _, fn := range trigger {
		fn()
	}
}

// IsDecryptionDrained reports whether everything read so far was processed.
func (o *IncomingMessageObserver) IsDecryptionDrained() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decryptionDrained
}

// IsNetworkDrained reports whether the relay backlog has been read.
func (o *IncomingMessageObserver) IsNetworkDrained() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.networkDrained
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ jobs.DrainNotifier = (*IncomingMessageObserver)(nil)
