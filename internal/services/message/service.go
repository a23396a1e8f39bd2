package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
)

// Encrypter seals a payload for one peer device, bootstrapping a ratchet
// from a stored session when needed. The hint tells the peer what to do
// if decryption fails.
type Encrypter interface {
	EncryptSealed(
		peer domain.Username,
		device domain.DeviceID,
		hint domain.ContentHint,
		payload domain.Payload,
	) ([]byte, error)
}

// Service encrypts outgoing messages and posts them to the relay. Data
// messages are kept in the sent log so a peer that reports a decryption
// failure can be answered with a resend.
type Service struct {
	cipher     Encrypter
	relay      domain.RelayClient
	recipients domain.RecipientStore
	messages   domain.MessageStore

	self   domain.Username
	device domain.DeviceID
	now    func() time.Time
}

// New returns a message service sending as self on device.
func New(
	cipher Encrypter,
	relay domain.RelayClient,
	recipients domain.RecipientStore,
	messages domain.MessageStore,
	self domain.Username,
	device domain.DeviceID,
) *Service {
	return &Service{
		cipher:     cipher,
		relay:      relay,
		recipients: recipients,
		messages:   messages,
		self:       self,
		device:     device,
		now:        time.Now,
	}
}

// SendMessage encrypts body for one device of to and returns the sent
// timestamp. The message is logged before it goes out so a retry receipt
// racing the send still finds it.
func (s *Service) SendMessage(
	ctx context.Context,
	to domain.Username,
	device domain.DeviceID,
	body string,
) (int64, error) {
	ts := s.now().UnixMilli()
	payload := domain.Payload{
		Kind:         domaintypes.ContentData,
		Body:         body,
		Capabilities: &domain.Capabilities{MessageRetries: true},
	}

	rec, err := s.recipients.RecipientFor(ctx, to)
	if err != nil {
		return 0, err
	}
	if err := s.messages.SaveSent(ctx, domain.SentMessage{
		Recipient:     rec.ID,
		SentTimestamp: ts,
		ContentHint:   domaintypes.ContentHintResendable,
		Body:          body,
	}); err != nil {
		return 0, fmt.Errorf("log sent message: %w", err)
	}

	if err := s.send(ctx, to, device, ts, domaintypes.ContentHintResendable, payload); err != nil {
		return 0, err
	}
	return ts, nil
}

// SendNullMessage sends an empty payload. After a session reset it carries
// the new prekey framing to the peer. Losing one is harmless, so it goes
// out with the implicit hint.
func (s *Service) SendNullMessage(ctx context.Context, to domain.Username, device domain.DeviceID) error {
	return s.send(ctx, to, device, s.now().UnixMilli(), domaintypes.ContentHintImplicit,
		domain.Payload{Kind: domaintypes.ContentNull})
}

// SendRetryReceipt tells the sender of an undecryptable message which one
// failed. It travels as plaintext content since the session is suspect.
func (s *Service) SendRetryReceipt(
	ctx context.Context,
	to domain.Username,
	device domain.DeviceID,
	group domain.GroupID,
	msg domain.DecryptionErrorMessage,
) error {
	payload := domain.Payload{
		Kind:            domaintypes.ContentDecryptionError,
		DecryptionError: &msg,
	}
	if !group.IsZero() {
		payload.GroupID = group.Bytes()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	env := domain.Envelope{
		Type:         domaintypes.EnvelopePlaintextContent,
		Source:       s.self,
		SourceDevice: s.device,
		Destination:  to,
		Timestamp:    s.now().UnixMilli(),
		Content:      raw,
	}
	if err := s.relay.SendMessage(ctx, env); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function":       "SendRetryReceipt",
		"to":             to,
		"device":         device,
		"sent_timestamp": msg.Timestamp,
	}).Info("Sent retry receipt")
	return nil
}

// ResendMessage answers a retry receipt. A logged message is encrypted again
// under its original timestamp so the peer can match it to the failed one.
// Without a log entry a null message is sent to move the session forward.
func (s *Service) ResendMessage(
	ctx context.Context,
	to domain.Username,
	device domain.DeviceID,
	sentTimestamp int64,
) error {
	log := logrus.WithFields(logrus.Fields{
		"function":       "ResendMessage",
		"to":             to,
		"device":         device,
		"sent_timestamp": sentTimestamp,
	})

	rec, err := s.recipients.RecipientFor(ctx, to)
	if err != nil {
		return err
	}
	sent, ok, err := s.messages.LoadSent(ctx, rec.ID, sentTimestamp)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("No sent message to resend, sending null message")
		return s.SendNullMessage(ctx, to, device)
	}

	payload := domain.Payload{
		Kind:         domaintypes.ContentData,
		Body:         sent.Body,
		Capabilities: &domain.Capabilities{MessageRetries: true},
	}
	if err := s.send(ctx, to, device, sent.SentTimestamp, sent.ContentHint, payload); err != nil {
		return err
	}
	log.Info("Resent message")
	return nil
}

func (s *Service) send(
	ctx context.Context,
	to domain.Username,
	device domain.DeviceID,
	ts int64,
	hint domain.ContentHint,
	payload domain.Payload,
) error {
	raw, err := s.cipher.EncryptSealed(to, device, hint, payload)
	if err != nil {
		return fmt.Errorf("encrypt for %s.%d: %w", to, device, err)
	}
	// The sender is only inside the seal.
	return s.relay.SendMessage(ctx, domain.Envelope{
		Type:        domaintypes.EnvelopeUnidentifiedSender,
		Destination: to,
		Timestamp:   ts,
		Content:     raw,
	})
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
