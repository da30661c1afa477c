package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/xid"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
)

var _ repository.NotificationRepository = (*DB)(nil)

func (db *DB) CreateNotification(ctx context.Context, n *model.Notification) error {
	n.ID = xid.New().String()
	n.Read = false
	n.CreatedAt = db.now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, is_read, created_at)
		 VALUES (?, ?, ?, FALSE, ?)`,
		n.ID, n.UserID, n.Message, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating notification for %s: %w", n.UserID, err)
	}
	return nil
}

// ListUnread returns the user's unread notifications, newest first.
func (db *DB) ListUnread(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := db.selectRows(ctx,
		sq.Select("id", "user_id", "message", "is_read", "created_at").
			From("notifications").
			Where(sq.Eq{"user_id": userID, "is_read": false}).
			OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing unread notifications: %w", err)
	}
	defer rows.Close()

	list := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning notification row: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating notifications: %w", err)
	}
	return list, nil
}

// MarkRead flips one notification. Marking an already read notification
// again succeeds; an ID that belongs to another user is NotFound.
func (db *DB) MarkRead(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking notification %s read: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("notification", id)
	}
	return nil
}

// MarkAllRead returns how many notifications changed.
func (db *DB) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = ? AND is_read = FALSE`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: marking all notifications read for %s: %w", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}
