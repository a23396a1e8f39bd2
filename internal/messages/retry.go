package messages

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/cipher"
	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/jobs"
	"courier/internal/metrics"
)

// RetryScheduler is told that a pending retry receipt was written.
type RetryScheduler interface {
	ScheduleIfNecessary()
}

// RetryCoordinator engages the retry receipt protocol for a session failure
// from a sender that supports it.
type RetryCoordinator struct {
	recipients domain.RecipientStore
	threads    domain.ThreadStore
	records    domain.MessageStore
	pending    domain.PendingRetryCache
	scheduler  RetryScheduler
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewRetryCoordinator returns a coordinator. scheduler may be nil when no
// PendingRetryManager runs; receipts then stay cached until removed.
func NewRetryCoordinator(stores Stores, scheduler RetryScheduler, m *metrics.Metrics) *RetryCoordinator {
	return &RetryCoordinator{
		recipients: stores.Recipients,
		threads:    stores.Threads,
		records:    stores.Messages,
		pending:    stores.Pending,
		scheduler:  scheduler,
		metrics:    m,
		now:        time.Now,
	}
}

// HandleRetry applies the content hint policy of perr and returns the job that
// asks sender to resend. Storage failures are logged; the receipt job is
// returned regardless so the sender still hears about the failure.
func (c *RetryCoordinator) HandleRetry(
	ctx context.Context,
	sender domain.Recipient,
	env domain.Envelope,
	perr *domain.ProtocolError,
) domain.Job {
	hint := perr.ContentHint
	device := perr.SenderDevice
	received := c.now().UnixMilli()

	log := logrus.WithFields(logrus.Fields{
		"function":     "HandleRetry",
		"sender":       sender.Username,
		"device":       device,
		"timestamp":    env.Timestamp,
		"content_hint": hint.String(),
	})

	var group domain.GroupID
	if len(perr.GroupID) > 0 {
		parsed, err := domaintypes.ParseGroupID(perr.GroupID)
		if err != nil {
			log.WithError(err).Warn("Dropping malformed group id")
		} else {
			group = parsed
		}
	}

	log.Warn("Could not decrypt message")

	thread := c.resolveThread(ctx, sender, group, log)

	switch hint {
	case domaintypes.ContentHintDefault:
		log.Warn("Inserting decryption error right away")
		err := insertBadDecrypt(ctx, c.threads, c.records, badDecrypt{
			sender:   sender.ID,
			device:   device,
			sent:     env.Timestamp,
			received: received,
			thread:   thread,
		})
		if err != nil {
			log.WithError(err).Error("Failed to insert decryption error")
		}
	case domaintypes.ContentHintResendable:
		log.Warn("Inserting into pending retries")
		err := c.pending.Insert(ctx, domain.PendingRetryReceipt{
			Sender:            sender.ID,
			SenderDevice:      device,
			SentTimestamp:     env.Timestamp,
			ReceivedTimestamp: received,
			ThreadID:          thread,
		})
		if err != nil {
			log.WithError(err).Error("Failed to store pending retry receipt")
		} else if c.scheduler != nil {
			c.scheduler.ScheduleIfNecessary()
		}
	case domaintypes.ContentHintImplicit:
		log.Info("Not surfacing failure of implicit content")
	}

	original, typ := env.Content, env.Type
	if u := perr.Unidentified; u != nil {
		original, typ = u.Content, u.Type
	}
	c.metrics.RetryReceipt(hint.String(), "requested")

	return jobs.SendRetryReceiptJob{
		Sender:       sender.Username,
		Device:       device,
		GroupID:      group,
		ContentHint:  hint,
		ErrorMessage: cipher.DecryptionErrorFor(original, typ, env.Timestamp, device),
	}
}

// resolveThread finds the existing thread the failure belongs to: the group
// thread when the group is known, the 1:1 thread with sender otherwise. It
// returns the zero ThreadID when no thread exists yet and never creates one.
func (c *RetryCoordinator) resolveThread(
	ctx context.Context,
	sender domain.Recipient,
	group domain.GroupID,
	log *logrus.Entry,
) domain.ThreadID {
	owner := sender.ID
	if !group.IsZero() {
		rec, ok, err := c.recipients.GroupRecipient(ctx, group)
		switch {
		case err != nil:
			log.WithError(err).Warn("Group lookup failed, using sender thread")
		case ok:
			owner = rec.ID
		}
	}

	thread, ok, err := c.threads.ThreadFor(ctx, owner)
	if err != nil {
		log.WithError(err).Warn("Thread lookup failed")
		return 0
	}
	if !ok {
		return 0
	}
	return thread
}

type badDecrypt struct {
	sender   domain.RecipientID
	device   domain.DeviceID
	sent     int64
	received int64
	thread   domain.ThreadID
}

// insertBadDecrypt stores the visible placeholder for a message that will not
// be resent. A placeholder needs a thread, so the sender's 1:1 thread is
// created when none was resolved.
func insertBadDecrypt(
	ctx context.Context,
	threads domain.ThreadStore,
	records domain.MessageStore,
	b badDecrypt,
) error {
	thread := b.thread
	if !thread.Valid() {
		var err error
		if thread, err = threads.GetOrCreateThread(ctx, b.sender); err != nil {
			return fmt.Errorf("thread for recipient %d: %w", b.sender, err)
		}
	}
	_, err := records.Insert(ctx, domain.MessageRecord{
		ThreadID:          thread,
		Sender:            b.sender,
		SenderDevice:      b.device,
		SentTimestamp:     b.sent,
		ReceivedTimestamp: b.received,
		Kind:              domaintypes.RecordBadDecrypt,
	})
	if err != nil {
		return fmt.Errorf("insert bad decrypt: %w", err)
	}
	return nil
}
