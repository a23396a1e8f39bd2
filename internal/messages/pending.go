package messages

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/metrics"
)

// PendingRetryManager turns pending retry receipts that were never answered
// by a resend into visible decryption errors.
type PendingRetryManager struct {
	cache    domain.PendingRetryCache
	threads  domain.ThreadStore
	records  domain.MessageStore
	timeout  time.Duration
	debounce time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewPendingRetryManager returns a manager that gives senders timeout to
// resend before the failure is shown. Bursts of ScheduleIfNecessary calls
// within debounce collapse into one pass.
func NewPendingRetryManager(stores Stores, timeout, debounce time.Duration, m *metrics.Metrics) *PendingRetryManager {
	return &PendingRetryManager{
		cache:    stores.Pending,
		threads:  stores.Threads,
		records:  stores.Messages,
		timeout:  timeout,
		debounce: debounce,
		metrics:  m,
		now:      time.Now,
	}
}

// ScheduleIfNecessary arranges a pass unless one is already scheduled.
func (p *PendingRetryManager) ScheduleIfNecessary() {
	p.schedule(p.debounce)
}

func (p *PendingRetryManager) schedule(after time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(after, p.fire)
}

func (p *PendingRetryManager) fire() {
	p.mu.Lock()
	p.timer = nil
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}

	ctx := context.Background()
	if _, err := p.Process(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PendingRetryManager.fire",
		}).WithError(err).Error("Pending retry pass failed")
	}

	next, ok, err := p.nextDeadline(ctx)
	if err != nil || !ok {
		return
	}
	p.schedule(next)
}

// Process expires every receipt older than the timeout and reports how many
// it converted into decryption errors.
func (p *PendingRetryManager) Process(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.timeout).UnixMilli()
	expired, err := p.cache.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired receipts: %w", err)
	}

	n := 0
	for _, r := range expired {
		log := logrus.WithFields(logrus.Fields{
			"function":  "PendingRetryManager.Process",
			"sender":    r.Sender,
			"device":    r.SenderDevice,
			"timestamp": r.SentTimestamp,
		})
		err := insertBadDecrypt(ctx, p.threads, p.records, badDecrypt{
			sender:   r.Sender,
			device:   r.SenderDevice,
			sent:     r.SentTimestamp,
			received: r.ReceivedTimestamp,
			thread:   r.ThreadID,
		})
		if err != nil {
			log.WithError(err).Error("Failed to insert decryption error for expired receipt")
			continue
		}
		if err := p.cache.Delete(ctx, r.Sender, r.SenderDevice, r.SentTimestamp); err != nil {
			log.WithError(err).Error("Failed to delete expired receipt")
			continue
		}
		log.Info("Retry window closed without a resend")
		n++
	}

	p.refreshGauge(ctx)
	return n, nil
}

// Remove drops the receipt answered by a successfully decrypted resend. It
// reports whether a receipt existed.
func (p *PendingRetryManager) Remove(
	ctx context.Context,
	sender domain.RecipientID,
	device domain.DeviceID,
	sentTimestamp int64,
) (bool, error) {
	return removePending(ctx, p.cache, sender, device, sentTimestamp)
}

// Stop cancels any scheduled pass. Later calls to ScheduleIfNecessary do
// nothing.
func (p *PendingRetryManager) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *PendingRetryManager) nextDeadline(ctx context.Context) (time.Duration, bool, error) {
	all, err := p.cache.List(ctx)
	if err != nil || len(all) == 0 {
		return 0, false, err
	}
	// List is ordered by received time, so the first receipt expires first.
	expires := time.UnixMilli(all[0].ReceivedTimestamp).Add(p.timeout)
	wait := expires.Sub(p.now())
	if wait < p.debounce {
		wait = p.debounce
	}
	return wait, true, nil
}

func (p *PendingRetryManager) refreshGauge(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	all, err := p.cache.List(ctx)
	if err != nil {
		return
	}
	p.metrics.SetPending(len(all))
}

func removePending(
	ctx context.Context,
	cache domain.PendingRetryCache,
	sender domain.RecipientID,
	device domain.DeviceID,
	sentTimestamp int64,
) (bool, error) {
	_, ok, err := cache.Get(ctx, sender, device, sentTimestamp)
	if err != nil {
		return false, fmt.Errorf("get pending receipt: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := cache.Delete(ctx, sender, device, sentTimestamp); err != nil {
		return false, fmt.Errorf("delete pending receipt: %w", err)
	}
	return true, nil
}
