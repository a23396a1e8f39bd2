package messages

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	domaintypes "courier/internal/domain/types"
	"courier/internal/jobs"
)

// IncomingMessageProcessor serialises envelope processing. Only the holder
// of the Processor returned by Acquire may process envelopes.
type IncomingMessageProcessor struct {
	mu   sync.Mutex
	proc Processor
}

// Processor applies decryption results to durable storage. Obtain one with
// IncomingMessageProcessor.Acquire and give it back with Release.
type Processor struct {
	owner     *IncomingMessageProcessor
	decryptor *Decryptor
	queue     domain.JobQueue
	stores    Stores
	now       func() time.Time
}

// NewIncomingMessageProcessor returns the processor for one account.
func NewIncomingMessageProcessor(decryptor *Decryptor, queue domain.JobQueue, stores Stores) *IncomingMessageProcessor {
	p := &IncomingMessageProcessor{}
	p.proc = Processor{
		owner:     p,
		decryptor: decryptor,
		queue:     queue,
		stores:    stores,
		now:       time.Now,
	}
	return p
}

// Acquire blocks until no other caller holds the processor.
func (p *IncomingMessageProcessor) Acquire() *Processor {
	p.mu.Lock()
	return &p.proc
}

// Release returns the processor. It must be called exactly once per Acquire.
func (pr *Processor) Release() {
	pr.owner.mu.Unlock()
}

// ProcessEnvelope decrypts env, enqueues every job of the result once and in
// order, then stores what the result calls for. The result is returned even
// when storing fails.
func (pr *Processor) ProcessEnvelope(ctx context.Context, env domain.Envelope) (domain.DecryptionResult, error) {
	result := pr.decryptor.Decrypt(ctx, env)
	for _, job := range result.Jobs {
		pr.queue.Enqueue(job)
	}

	var err error
	switch {
	case result.State == domaintypes.StateDecryptedOK:
		err = pr.storeContent(ctx, *result.Content)
	case result.State.IsError():
		err = pr.storeError(ctx, env, result)
	}
	return result, err
}

func (pr *Processor) storeContent(ctx context.Context, c domain.Content) error {
	log := logrus.WithFields(logrus.Fields{
		"function":  "ProcessEnvelope",
		"sender":    c.Sender,
		"device":    c.SenderDevice,
		"timestamp": c.Timestamp,
		"kind":      c.Kind,
	})

	sender, err := pr.stores.Recipients.RecipientFor(ctx, c.Sender)
	if err != nil {
		return fmt.Errorf("recipient for %s: %w", c.Sender, err)
	}
	if c.Capabilities != nil && c.Capabilities.MessageRetries != sender.SupportsMessageRetries {
		if err := pr.stores.Recipients.SetMessageRetries(ctx, sender.ID, c.Capabilities.MessageRetries); err != nil {
			return fmt.Errorf("record capabilities of %s: %w", c.Sender, err)
		}
	}

	// A resend carries the timestamp of the message it replaces.
	removed, err := removePending(ctx, pr.stores.Pending, sender.ID, c.SenderDevice, c.Timestamp)
	if err != nil {
		return err
	}
	if removed {
		log.Info("Resend arrived for pending retry receipt")
	}

	switch c.Kind {
	case domaintypes.ContentDecryptionError:
		if c.DecryptionError == nil {
			log.Warn("Retry receipt without error message")
			return nil
		}
		pr.queue.Enqueue(jobs.ResendMessageJob{
			Recipient:     c.Sender,
			Device:        c.SenderDevice,
			SentTimestamp: c.DecryptionError.Timestamp,
		})
		return nil
	case domaintypes.ContentTyping, domaintypes.ContentNull:
		return nil
	}

	thread, err := pr.threadFor(ctx, sender.ID, c.GroupID)
	if err != nil {
		return err
	}
	inserted, err := pr.stores.Messages.Insert(ctx, domain.MessageRecord{
		ThreadID:          thread,
		Sender:            sender.ID,
		SenderDevice:      c.SenderDevice,
		SentTimestamp:     c.Timestamp,
		ServerTimestamp:   c.ServerTimestamp,
		ReceivedTimestamp: pr.now().UnixMilli(),
		ServerGUID:        c.ServerGUID,
		Kind:              domaintypes.RecordText,
		Body:              c.Body,
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		log.Info("Message already stored")
	}
	return nil
}

func (pr *Processor) storeError(ctx context.Context, env domain.Envelope, result domain.DecryptionResult) error {
	kind, ok := domaintypes.RecordKindForState(result.State)
	if !ok || result.Exception == nil {
		return nil
	}
	meta := result.Exception

	sender, err := pr.stores.Recipients.RecipientFor(ctx, meta.Sender)
	if err != nil {
		return fmt.Errorf("recipient for %s: %w", meta.Sender, err)
	}

	// A redelivered envelope decrypts as a duplicate of itself. Once any row
	// exists for it there is nothing new to show.
	if result.State == domaintypes.StateDuplicateMessage {
		stored, err := pr.stores.Messages.HasMessage(ctx, sender.ID, meta.SenderDevice, env.Timestamp)
		if err != nil {
			return fmt.Errorf("look up duplicate: %w", err)
		}
		if stored {
			logrus.WithFields(logrus.Fields{
				"function":  "ProcessEnvelope",
				"sender":    meta.Sender,
				"timestamp": env.Timestamp,
			}).Debug("Duplicate of a stored envelope, ignoring")
			return nil
		}
	}

	thread, err := pr.threadFor(ctx, sender.ID, meta.GroupID)
	if err != nil {
		return err
	}

	inserted, err := pr.stores.Messages.Insert(ctx, domain.MessageRecord{
		ThreadID:          thread,
		Sender:            sender.ID,
		SenderDevice:      meta.SenderDevice,
		SentTimestamp:     env.Timestamp,
		ServerTimestamp:   env.ServerTimestamp,
		ReceivedTimestamp: pr.now().UnixMilli(),
		ServerGUID:        env.ServerGUID,
		Kind:              kind,
	})
	if err != nil {
		return fmt.Errorf("insert %s record: %w", kind, err)
	}
	if !inserted {
		logrus.WithFields(logrus.Fields{
			"function":  "ProcessEnvelope",
			"sender":    meta.Sender,
			"timestamp": env.Timestamp,
			"state":     result.State.String(),
		}).Debug("Error record already stored")
	}
	return nil
}

func (pr *Processor) threadFor(ctx context.Context, sender domain.RecipientID, group domain.GroupID) (domain.ThreadID, error) {
	owner := sender
	if !group.IsZero() {
		rec, err := pr.stores.Recipients.GroupRecipientFor(ctx, group)
		if err != nil {
			return 0, fmt.Errorf("recipient for group %s: %w", group, err)
		}
		owner = rec.ID
	}
	thread, err := pr.stores.Threads.GetOrCreateThread(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("thread for recipient %d: %w", owner, err)
	}
	return thread, nil
}
