package notifications

import (
	"context"

	"github.com/rotisserie/eris"

	"kpi/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) Insert(ctx context.Context, tenantID, userID string, msg Message) error {
	if _, err := s.DB.Exec(ctx, `
    INSERT INTO notifications (tenant_id, user_id, type, title, body)
    VALUES ($1,$2,$3,$4,$5)
  `, tenantID, userID, msg.Type, msg.Title, msg.Body); err != nil {
		return eris.Wrapf(err, "notifications: insert %s", msg.Type)
	}
	return nil
}

// Recipient reads the user's address together with the tenant mail settings.
// A tenant without a settings row does not mail.
func (s *Store) Recipient(ctx context.Context, tenantID, userID string) (Recipient, error) {
	var rcpt Recipient
	err := s.DB.QueryRow(ctx, `
    SELECT u.email, COALESCE(ts.email_notifications_enabled, false), COALESCE(ts.email_from, '')
    FROM users u
    LEFT JOIN tenant_settings ts ON ts.tenant_id = u.tenant_id
    WHERE u.tenant_id = $1 AND u.id = $2
  `, tenantID, userID).Scan(&rcpt.Email, &rcpt.EmailEnabled, &rcpt.From)
	if err != nil {
		return Recipient{}, eris.Wrap(err, "notifications: load recipient")
	}
	return rcpt, nil
}

func (s *Store) List(ctx context.Context, tenantID, userID string, filter ListFilter) ([]Notification, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, type, title, body, read_at, created_at
    FROM notifications
    WHERE tenant_id = $1 AND user_id = $2
      AND (NOT $3 OR read_at IS NULL)
    ORDER BY created_at DESC
    LIMIT $4 OFFSET $5
  `, tenantID, userID, filter.UnreadOnly, filter.Limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "notifications: list")
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "notifications: scan")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead keeps the first read time and reports whether the notification
// exists for this user.
func (s *Store) MarkRead(ctx context.Context, tenantID, userID, notificationID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
    UPDATE notifications SET read_at = COALESCE(read_at, now())
    WHERE tenant_id = $1 AND user_id = $2 AND id = $3
  `, tenantID, userID, notificationID)
	if err != nil {
		return false, eris.Wrap(err, "notifications: mark read")
	}
	return tag.RowsAffected() > 0, nil
}
