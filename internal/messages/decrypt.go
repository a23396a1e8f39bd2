package messages

import (
	"context"

	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/jobs"
	"courier/internal/metrics"
)

// Stores groups the durable stores the pipeline reads and writes.
type Stores struct {
	Recipients domain.RecipientStore
	Threads    domain.ThreadStore
	Messages   domain.MessageStore
	Pending    domain.PendingRetryCache
}

// Decryptor runs the cipher over an envelope and classifies the outcome into
// a DecryptionResult. Apart from protocol state advanced by the cipher and the
// retry bookkeeping of the RetryCoordinator, it writes nothing: storage and
// job execution belong to the caller.
type Decryptor struct {
	cipher     domain.EnvelopeCipher
	recipients domain.RecipientStore
	retry      *RetryCoordinator
	notifier   domain.Notifier
	metrics    *metrics.Metrics

	// retriesEnabled says whether this client speaks the retry receipt
	// protocol. Both ends must, or a session reset is used instead.
	retriesEnabled bool
}

// NewDecryptor returns a Decryptor. retry and notifier may be nil; without a
// coordinator every session failure falls back to a session reset.
func NewDecryptor(
	c domain.EnvelopeCipher,
	recipients domain.RecipientStore,
	retry *RetryCoordinator,
	notifier domain.Notifier,
	retriesEnabled bool,
	m *metrics.Metrics,
) *Decryptor {
	return &Decryptor{
		cipher:         c,
		recipients:     recipients,
		retry:          retry,
		notifier:       notifier,
		retriesEnabled: retriesEnabled,
		metrics:        m,
	}
}

// Decrypt opens env and classifies the outcome.
func (d *Decryptor) Decrypt(ctx context.Context, env domain.Envelope) domain.DecryptionResult {
	return d.Classify(ctx, env, d.cipher.Decrypt(ctx, env))
}

// Classify maps one cipher outcome to a result. Every failure kind has a
// branch; none of them is returned as an error.
func (d *Decryptor) Classify(
	ctx context.Context,
	env domain.Envelope,
	outcome domain.DecryptOutcome,
) domain.DecryptionResult {
	var pending []domain.Job
	// Prekey exhaustion is checked whatever the outcome.
	if env.IsPreKeyBundle() || outcome.SealedPreKey {
		pending = append(pending, jobs.RefreshPreKeysJob{})
	}

	result := d.classify(ctx, env, outcome, pending)
	d.metrics.Envelope(result.State.String())
	return result
}

func (d *Decryptor) classify(
	ctx context.Context,
	env domain.Envelope,
	outcome domain.DecryptOutcome,
	pending []domain.Job,
) domain.DecryptionResult {
	if outcome.OK() {
		return domaintypes.ForSuccess(*outcome.Content, pending)
	}

	log := logrus.WithFields(logrus.Fields{
		"function":  "Classify",
		"timestamp": env.Timestamp,
		"type":      env.Type.String(),
	})

	perr := outcome.Err
	if perr == nil {
		log.Error("Cipher returned neither content nor error")
		return domaintypes.ForNoop(pending)
	}
	log = log.WithFields(logrus.Fields{
		"kind":   perr.Kind.String(),
		"sender": perr.Sender,
		"device": perr.SenderDevice,
	})

	switch perr.Kind {
	case domaintypes.ErrKindInvalidVersion:
		log.WithError(perr).Warn("Invalid message version")
		return d.forError(domaintypes.StateInvalidVersion, perr, false, pending, log)

	case domaintypes.ErrKindInvalidKey, domaintypes.ErrKindInvalidKeyID, domaintypes.ErrKindUntrustedIdentity,
		domaintypes.ErrKindNoSession, domaintypes.ErrKindInvalidMessage:
		log.WithError(perr).Warn("Session failure")
		return d.sessionFailure(ctx, env, perr, pending, log)

	case domaintypes.ErrKindLegacyMessage:
		log.WithError(perr).Warn("Legacy message")
		return d.forError(domaintypes.StateLegacyMessage, perr, false, pending, log)

	case domaintypes.ErrKindDuplicateMessage:
		log.WithError(perr).Warn("Duplicate message")
		return d.forError(domaintypes.StateDuplicateMessage, perr, false, pending, log)

	case domaintypes.ErrKindInvalidMetadataVersion, domaintypes.ErrKindInvalidMetadataMessage:
		log.WithError(perr).Warn("Invalid sealed sender metadata")
		return domaintypes.ForNoop(pending)

	case domaintypes.ErrKindSelfSend:
		log.Info("Dropping sealed sender message from self")
		return domaintypes.ForNoop(pending)

	case domaintypes.ErrKindUnsupportedDataMessage:
		log.WithError(perr).Warn("Unsupported data message")
		return d.forError(domaintypes.StateUnsupportedDataMessage, perr, true, pending, log)
	}

	log.WithError(perr).Error("Unhandled protocol error kind")
	return domaintypes.ForNoop(pending)
}

// forError attributes an error state to the sender carried by perr. A cipher
// that fails to name the sender broke its contract; the envelope is dropped
// and the breach logged loudly instead of crashing the pipeline.
func (d *Decryptor) forError(
	state domain.MessageState,
	perr *domain.ProtocolError,
	withGroup bool,
	pending []domain.Job,
	log *logrus.Entry,
) domain.DecryptionResult {
	if !perr.HasSender() {
		log.WithField("state", state.String()).Error("Protocol error without sender, dropping envelope")
		return domaintypes.ForNoop(pending)
	}

	meta := domain.ExceptionMetadata{Sender: perr.Sender, SenderDevice: perr.SenderDevice}
	if withGroup && len(perr.GroupID) > 0 {
		group, err := domaintypes.ParseGroupID(perr.GroupID)
		if err != nil {
			log.WithError(err).Warn("Bad group id in unsupported data message")
		} else {
			meta.GroupID = group
		}
	}
	return domaintypes.ForError(state, meta, pending)
}

func (d *Decryptor) sessionFailure(
	ctx context.Context,
	env domain.Envelope,
	perr *domain.ProtocolError,
	pending []domain.Job,
	log *logrus.Entry,
) domain.DecryptionResult {
	if !perr.HasSender() {
		log.Error("Session failure without sender, nothing to recover")
		return domaintypes.ForNoop(pending)
	}

	reset := jobs.AutomaticSessionResetJob{
		Sender:    perr.Sender,
		Device:    perr.SenderDevice,
		Timestamp: env.Timestamp,
	}

	sender, err := d.recipients.RecipientFor(ctx, perr.Sender)
	if err != nil {
		log.WithError(err).Error("Failed to resolve sender, falling back to session reset")
		return domaintypes.ForNoop(append(pending, reset))
	}

	if d.retry == nil || !d.retriesEnabled || !sender.SupportsMessageRetries {
		return domaintypes.ForNoop(append(pending, reset))
	}

	pending = append(pending, d.retry.HandleRetry(ctx, sender, env, perr))
	if d.notifier != nil {
		d.notifier.NotifyInternalError(ctx, perr.Sender, "Failed to decrypt a message")
	}
	return domaintypes.ForNoop(pending)
}

// LogNotifier reports internal errors through the log.
type LogNotifier struct{}

// NotifyInternalError logs message at error level.
func (LogNotifier) NotifyInternalError(_ context.Context, sender domain.Username, message string) {
	logrus.WithFields(logrus.Fields{
		"function": "NotifyInternalError",
		"sender":   sender,
	}).Error(message)
}

var _ domain.Notifier = LogNotifier{}
