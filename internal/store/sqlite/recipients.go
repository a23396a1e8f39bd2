package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courier/internal/domain"
)

// RecipientFor returns the recipient row for username, creating it if needed.
func (s *Store) RecipientFor(ctx context.Context, username domain.Username) (domain.Recipient, error) {
	if username == "" {
		return domain.Recipient{}, errors.New("username is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients (username, created_at)
		VALUES (?, ?)
		ON CONFLICT(username) DO NOTHING`,
		username.String(),
		nowUnixMilli(),
	)
	if err != nil {
		return domain.Recipient{}, fmt.Errorf("insert recipient %q: %w", username, err)
	}

	rec, ok, err := s.scanRecipient(ctx, `WHERE username = ?`, username.String())
	if err != nil {
		return domain.Recipient{}, err
	}
	if !ok {
		return domain.Recipient{}, fmt.Errorf("recipient %q vanished after insert", username)
	}
	return rec, nil
}

// GroupRecipientFor returns the recipient row for a group, creating it if needed.
func (s *Store) GroupRecipientFor(ctx context.Context, group domain.GroupID) (domain.Recipient, error) {
	if group.IsZero() {
		return domain.Recipient{}, errors.New("group id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients (group_id, created_at)
		VALUES (?, ?)
		ON CONFLICT(group_id) DO NOTHING`,
		group.String(),
		nowUnixMilli(),
	)
	if err != nil {
		return domain.Recipient{}, fmt.Errorf("insert group recipient %s: %w", group, err)
	}

	rec, ok, err := s.scanRecipient(ctx, `WHERE group_id = ?`, group.String())
	if err != nil {
		return domain.Recipient{}, err
	}
	if !ok {
		return domain.Recipient{}, fmt.Errorf("group recipient %s vanished after insert", group)
	}
	return rec, nil
}

// GroupRecipient looks up a group without creating it.
func (s *Store) GroupRecipient(ctx context.Context, group domain.GroupID) (domain.Recipient, bool, error) {
	if group.IsZero() {
		return domain.Recipient{}, false, nil
	}
	return s.scanRecipient(ctx, `WHERE group_id = ?`, group.String())
}

// Recipient loads a recipient by id.
func (s *Store) Recipient(ctx context.Context, id domain.RecipientID) (domain.Recipient, bool, error) {
	return s.scanRecipient(ctx, `WHERE id = ?`, int64(id))
}

// SetMessageRetries records whether the recipient advertised retry receipt support.
func (s *Store) SetMessageRetries(ctx context.Context, id domain.RecipientID, supported bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET supports_message_retries = ? WHERE id = ?`,
		boolToInt(supported),
		int64(id),
	)
	if err != nil {
		return fmt.Errorf("update message retries for recipient %d: %w", id, err)
	}
	return nil
}

func (s *Store) scanRecipient(ctx context.Context, where string, arg any) (domain.Recipient, bool, error) {
	var (
		id       int64
		username sql.NullString
		groupID  sql.NullString
		retries  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, group_id, supports_message_retries FROM recipients `+where,
		arg,
	).Scan(&id, &username, &groupID, &retries)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipient{}, false, nil
	}
	if err != nil {
		return domain.Recipient{}, false, fmt.Errorf("query recipient: %w", err)
	}

	rec := domain.Recipient{
		ID:                     domain.RecipientID(id),
		Username:               domain.Username(username.String),
		SupportsMessageRetries: retries == 1,
	}
	if groupID.Valid {
		if err := rec.GroupID.UnmarshalText([]byte(groupID.String)); err != nil {
			return domain.Recipient{}, false, fmt.Errorf("decode group id of recipient %d: %w", id, err)
		}
	}
	return rec, true, nil
}

// ThreadFor looks up the thread of a recipient. It never creates one.
func (s *Store) ThreadFor(ctx context.Context, recipient domain.RecipientID) (domain.ThreadID, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM threads WHERE recipient_id = ?`,
		int64(recipient),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query thread for recipient %d: %w", recipient, err)
	}
	return domain.ThreadID(id), true, nil
}

// GetOrCreateThread returns the thread of a recipient, creating it if needed.
func (s *Store) GetOrCreateThread(ctx context.Context, recipient domain.RecipientID) (domain.ThreadID, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (recipient_id, created_at)
		VALUES (?, ?)
		ON CONFLICT(recipient_id) DO NOTHING`,
		int64(recipient),
		nowUnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert thread for recipient %d: %w", recipient, err)
	}

	id, ok, err := s.ThreadFor(ctx, recipient)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("thread for recipient %d vanished after insert", recipient)
	}
	return id, nil
}

var (
	_ domain.RecipientStore = (*Store)(nil)
	_ domain.ThreadStore    = (*Store)(nil)
)
