package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courier/internal/domain"
)

// Insert upserts a pending retry receipt keyed by (sender, device, sent timestamp).
func (p PendingRetries) Insert(ctx context.Context, r domain.PendingRetryReceipt) error {
	if r.Sender == 0 {
		return errors.New("sender is required")
	}
	if r.ReceivedTimestamp == 0 {
		r.ReceivedTimestamp = nowUnixMilli()
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO pending_retry_receipts (sender_id, sender_device, sent_ts, received_ts, thread_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(sender_id, sender_device, sent_ts) DO UPDATE SET
			received_ts = excluded.received_ts,
			thread_id = excluded.thread_id`,
		int64(r.Sender),
		int64(r.SenderDevice),
		r.SentTimestamp,
		r.ReceivedTimestamp,
		int64(r.ThreadID),
	)
	if err != nil {
		return fmt.Errorf("upsert pending retry receipt %d.%d@%d: %w", r.Sender, r.SenderDevice, r.SentTimestamp, err)
	}
	return nil
}

// Get returns the receipt for a key.
func (p PendingRetries) Get(
	ctx context.Context,
	sender domain.RecipientID,
	device domain.DeviceID,
	sentTimestamp int64,
) (domain.PendingRetryReceipt, bool, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT sender_id, sender_device, sent_ts, received_ts, thread_id
		FROM pending_retry_receipts
		WHERE sender_id = ? AND sender_device = ? AND sent_ts = ?`,
		int64(sender),
		int64(device),
		sentTimestamp,
	)
	if err != nil {
		return domain.PendingRetryReceipt{}, false, fmt.Errorf("query pending retry receipt: %w", err)
	}
	out, err := scanReceipts(rows)
	if err != nil || len(out) == 0 {
		return domain.PendingRetryReceipt{}, false, err
	}
	return out[0], true, nil
}

// Delete removes the receipt for a key. Missing keys are not an error.
func (p PendingRetries) Delete(
	ctx context.Context,
	sender domain.RecipientID,
	device domain.DeviceID,
	sentTimestamp int64,
) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM pending_retry_receipts WHERE sender_id = ? AND sender_device = ? AND sent_ts = ?`,
		int64(sender),
		int64(device),
		sentTimestamp,
	)
	if err != nil {
		return fmt.Errorf("delete pending retry receipt: %w", err)
	}
	return nil
}

// ListOlderThan returns receipts received before the cutoff, oldest first.
func (p PendingRetries) ListOlderThan(ctx context.Context, receivedBefore int64) ([]domain.PendingRetryReceipt, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT sender_id, sender_device, sent_ts, received_ts, thread_id
		FROM pending_retry_receipts
		WHERE received_ts < ?
		ORDER BY received_ts ASC`,
		receivedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired pending retry receipts: %w", err)
	}
	return scanReceipts(rows)
}

// List returns every receipt, oldest first.
func (p PendingRetries) List(ctx context.Context) ([]domain.PendingRetryReceipt, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT sender_id, sender_device, sent_ts, received_ts, thread_id
		FROM pending_retry_receipts
		ORDER BY received_ts ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending retry receipts: %w", err)
	}
	return scanReceipts(rows)
}

// PendingRetries is the pending retry receipt cache view of a Store. It is
// separate from Store because its method set overlaps MessageStore.Insert.
type PendingRetries struct {
	db *sql.DB
}

// PendingRetries returns the pending retry receipt cache backed by s.
func (s *Store) PendingRetries() PendingRetries { return PendingRetries{db: s.db} }

func scanReceipts(rows *sql.Rows) ([]domain.PendingRetryReceipt, error) {
	defer rows.Close()

	var out []domain.PendingRetryReceipt
	for rows.Next() {
		var sender, device, thread int64
		var r domain.PendingRetryReceipt
		if err := rows.Scan(&sender, &device, &r.SentTimestamp, &r.ReceivedTimestamp, &thread); err != nil {
			return nil, fmt.Errorf("scan pending retry receipt: %w", err)
		}
		r.Sender = domain.RecipientID(sender)
		r.SenderDevice = domain.DeviceID(device)
		r.ThreadID = domain.ThreadID(thread)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending retry receipts: %w", err)
	}
	return out, nil
}

var _ domain.PendingRetryCache = PendingRetries{}
