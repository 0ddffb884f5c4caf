package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillgate/internal/capability"
)

// Deliver inserts a new unread message. Redelivering an existing ID is a
// no-op.
func (s *Store) Deliver(ctx context.Context, m capability.Mail) (capability.Mail, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}
	m.Subject = strings.TrimSpace(m.Subject)

	_, err := s.db.Exec(ctx, `
		INSERT INTO mail (id, subject, body, sender, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Subject, m.Body, m.From, m.ReceivedAt,
	)
	if err != nil {
		return m, fmt.Errorf("deliver mail: %w", err)
	}
	return m, nil
}

// FetchUnread returns unread mail, oldest first.
func (s *Store) FetchUnread(ctx context.Context) ([]capability.Mail, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, subject, body, sender, received_at
		FROM mail
		WHERE archived_at IS NULL
		ORDER BY received_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}
	defer rows.Close()

	var out []capability.Mail
	for rows.Next() {
		var m capability.Mail
		if err := rows.Scan(&m.ID, &m.Subject, &m.Body, &m.From, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Archive marks a message archived. Archiving an archived message keeps its
// original archive time and succeeds.
func (s *Store) Archive(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE mail SET archived_at = COALESCE(archived_at, NOW())
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", capability.ErrArchiveFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return capability.ErrMessageNotFound
	}
	return nil
}

var _ capability.Mailbox = (*Store)(nil)
