package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courier/internal/domain"
)

// Insert stores rec unless a row with the same (sender, device, sent
// timestamp, kind) exists. It reports whether a row was written.
func (s *Store) Insert(ctx context.Context, rec domain.MessageRecord) (bool, error) {
	if !rec.ThreadID.Valid() {
		return false, errors.New("thread_id is required")
	}
	if rec.Kind == "" {
		return false, errors.New("kind is required")
	}
	if rec.ReceivedTimestamp == 0 {
		rec.ReceivedTimestamp = nowUnixMilli()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			thread_id, sender_id, sender_device, sent_ts, server_ts,
			received_ts, server_guid, kind, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sender_id, sender_device, sent_ts, kind) DO NOTHING`,
		int64(rec.ThreadID),
		int64(rec.Sender),
		int64(rec.SenderDevice),
		rec.SentTimestamp,
		rec.ServerTimestamp,
		rec.ReceivedTimestamp,
		rec.ServerGUID,
		string(rec.Kind),
		rec.Body,
	)
	if err != nil {
		return false, fmt.Errorf("insert %s message from %d: %w", rec.Kind, rec.Sender, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for message insert: %w", err)
	}
	return rowsAffected == 1, nil
}

// HasMessage reports whether a row of any kind exists for the envelope
// identified by (sender, device, sent timestamp).
func (s *Store) HasMessage(
	ctx context.Context,
	sender domain.RecipientID,
	device domain.DeviceID,
	sentTimestamp int64,
) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM messages
			WHERE sender_id = ? AND sender_device = ? AND sent_ts = ?
		)`,
		int64(sender), int64(device), sentTimestamp,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("look up message from %d at %d: %w", sender, sentTimestamp, err)
	}
	return exists == 1, nil
}

// Messages lists the rows of a thread oldest first.
func (s *Store) Messages(ctx context.Context, thread domain.ThreadID) ([]domain.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, sender_id, sender_device, sent_ts, server_ts,
			received_ts, server_guid, kind, body
		FROM messages
		WHERE thread_id = ?
		ORDER BY sent_ts ASC, id ASC`,
		int64(thread),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages of thread %d: %w", thread, err)
	}
	defer rows.Close()

	var out []domain.MessageRecord
	for rows.Next() {
		var (
			rec    domain.MessageRecord
			thread int64
			sender int64
			device int64
			kind   string
		)
		if err := rows.Scan(
			&rec.ID, &thread, &sender, &device, &rec.SentTimestamp, &rec.ServerTimestamp,
			&rec.ReceivedTimestamp, &rec.ServerGUID, &kind, &rec.Body,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		rec.ThreadID = domain.ThreadID(thread)
		rec.Sender = domain.RecipientID(sender)
		rec.SenderDevice = domain.DeviceID(device)
		rec.Kind = domain.RecordKind(kind)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// SaveSent records an outgoing message for later resends.
func (s *Store) SaveSent(ctx context.Context, msg domain.SentMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_messages (recipient_id, sent_ts, content_hint, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(recipient_id, sent_ts) DO UPDATE SET
			content_hint = excluded.content_hint,
			body = excluded.body`,
		int64(msg.Recipient),
		msg.SentTimestamp,
		int(msg.ContentHint),
		msg.Body,
	)
	if err != nil {
		return fmt.Errorf("insert sent message to %d: %w", msg.Recipient, err)
	}
	return nil
}

// LoadSent returns a previously sent message.
func (s *Store) LoadSent(
	ctx context.Context,
	recipient domain.RecipientID,
	sentTimestamp int64,
) (domain.SentMessage, bool, error) {
	msg := domain.SentMessage{Recipient: recipient, SentTimestamp: sentTimestamp}
	var hint int
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hint, body FROM sent_messages WHERE recipient_id = ? AND sent_ts = ?`,
		int64(recipient),
		sentTimestamp,
	).Scan(&hint, &msg.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SentMessage{}, false, nil
	}
	if err != nil {
		return domain.SentMessage{}, false, fmt.Errorf("query sent message to %d: %w", recipient, err)
	}
	msg.ContentHint = domain.ContentHint(hint)
	return msg, true, nil
}

var _ domain.MessageStore = (*Store)(nil)
