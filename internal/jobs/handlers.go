package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/metrics"
	"courier/internal/platform/ratelimiter"
)

// DrainNotifier is told when the decryption backlog has been worked off.
type DrainNotifier interface {
	NotifyDecryptionsDrained()
}

// Deps are the collaborators of the built-in handlers.
type Deps struct {
	Passphrase string
	Username   domain.Username

	PreKeys  domain.PreKeyService
	Sessions domain.SessionService
	Messages domain.MessageService
	Drained  DrainNotifier

	// Limiter throttles retry receipts per sender device. Nil disables it.
	Limiter *ratelimiter.MapLimiter
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// RegisterHandlers wires every job kind to its handler on m.
func RegisterHandlers(m *Manager, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := handlers{d}
	m.Register(KindRefreshPreKeys, h.refreshPreKeys)
	m.Register(KindAutomaticSessionReset, h.automaticSessionReset)
	m.Register(KindSendRetryReceipt, h.sendRetryReceipt)
	m.Register(KindDecryptionDrained, h.decryptionDrained)
	m.Register(KindResendMessage, h.resendMessage)
}

type handlers struct {
	Deps
}

func (h handlers) refreshPreKeys(ctx context.Context, _ domain.Job) error {
	refreshed, err := h.PreKeys.RefreshPreKeys(ctx, h.Passphrase, h.Username)
	if err != nil {
		return fmt.Errorf("refresh prekeys: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "refreshPreKeys",
		"refreshed": refreshed,
	}).Info("Checked one-time prekeys")
	return nil
}

func (h handlers) automaticSessionReset(ctx context.Context, j domain.Job) error {
	job, ok := j.(AutomaticSessionResetJob)
	if !ok {
		return backoff.Permanent(fmt.Errorf("unexpected job type %T", j))
	}
	log := logrus.WithFields(logrus.Fields{
		"function":  "automaticSessionReset",
		"sender":    job.Sender,
		"device":    job.Device,
		"timestamp": job.Timestamp,
	})

	if _, err := h.Sessions.ResetSession(ctx, h.Passphrase, job.Sender, job.Device); err != nil {
		return fmt.Errorf("reset session with %s.%d: %w", job.Sender, job.Device, err)
	}
	// The null message carries the new prekey framing so the peer switches
	// sessions before its next real message.
	if err := h.Messages.SendNullMessage(ctx, job.Sender, job.Device); err != nil {
		return fmt.Errorf("send null message to %s.%d: %w", job.Sender, job.Device, err)
	}
	log.Info("Reset session after decryption failure")
	return nil
}

func (h handlers) sendRetryReceipt(ctx context.Context, j domain.Job) error {
	job, ok := j.(SendRetryReceiptJob)
	if !ok {
		return backoff.Permanent(fmt.Errorf("unexpected job type %T", j))
	}
	key := job.Sender.String() + "." + job.Device.String()
	if !h.Limiter.Allow(key, h.Now()) {
		logrus.WithFields(logrus.Fields{
			"function": "sendRetryReceipt",
			"sender":   key,
		}).Warn("Retry receipt rate limited")
		h.Metrics.RetryReceipt(job.ContentHint.String(), "limited")
		return nil
	}

	if err := h.Messages.SendRetryReceipt(ctx, job.Sender, job.Device, job.GroupID, job.ErrorMessage); err != nil {
		return fmt.Errorf("send retry receipt to %s: %w", key, err)
	}
	h.Metrics.RetryReceipt(job.ContentHint.String(), "sent")
	return nil
}

func (h handlers) decryptionDrained(context.Context, domain.Job) error {
	if h.Drained != nil {
		h.Drained.NotifyDecryptionsDrained()
	}
	return nil
}

func (h handlers) resendMessage(ctx context.Context, j domain.Job) error {
	job, ok := j.(ResendMessageJob)
	if !ok {
		return backoff.Permanent(fmt.Errorf("unexpected job type %T", j))
	}
	if err := h.Messages.ResendMessage(ctx, job.Recipient, job.Device, job.SentTimestamp); err != nil {
		return fmt.Errorf("resend %d to %s.%d: %w", job.SentTimestamp, job.Recipient, job.Device, err)
	}
	return nil
}
