package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
)

var _ repository.RatingRepository = (*DB)(nil)

// UpsertRating keeps at most one row per user: a second submission
// replaces rating and comment but keeps the original ID and created_at.
func (db *DB) UpsertRating(ctx context.Context, r *model.Rating) (*model.Rating, error) {
	now := db.now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO ratings (id, rating, comment, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     rating = excluded.rating,
		     comment = excluded.comment,
		     updated_at = excluded.updated_at`,
		xid.New().String(), r.Rating, r.Comment, r.UserID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upserting rating for %s: %w", r.UserID, err)
	}
	return db.GetRatingByUser(ctx, r.UserID)
}

func (db *DB) GetRatingByUser(ctx context.Context, userID string) (*model.Rating, error) {
	var r model.Rating
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, rating, comment, user_id, created_at, updated_at
		 FROM ratings WHERE user_id = ?`,
		userID,
	).Scan(&r.ID, &r.Rating, &r.Comment, &r.UserID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("rating", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting rating for %s: %w", userID, err)
	}
	return &r, nil
}

func (db *DB) ListRatings(ctx context.Context) ([]model.Rating, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, rating, comment, user_id, created_at, updated_at
		 FROM ratings ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing ratings: %w", err)
	}
	defer rows.Close()

	ratings := make([]model.Rating, 0)
	for rows.Next() {
		var r model.Rating
		if err := rows.Scan(&r.ID, &r.Rating, &r.Comment, &r.UserID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning rating row: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating ratings: %w", err)
	}
	return ratings, nil
}
