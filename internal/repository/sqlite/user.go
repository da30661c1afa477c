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

var (
	_ repository.IdentityRepository = (*DB)(nil)
	_ repository.ProfileRepository  = (*DB)(nil)
	_ repository.RoleRepository     = (*DB)(nil)
)

// CreateIdentity inserts a credential row. The ID is generated here unless
// the caller already set one. A taken email or GitHub ID is a Conflict.
func (db *DB) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	if identity.ID == "" {
		identity.ID = xid.New().String()
	}
	identity.CreatedAt = db.now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, github_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.GitHubID,
		identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("identity", identity.Email)
		}
		return fmt.Errorf("sqlite: creating identity: %w", err)
	}
	return nil
}

// DeleteIdentity removes the identity and, through ON DELETE CASCADE, its
// profile and role rows. Used to undo a half-finished sign-up.
func (db *DB) DeleteIdentity(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting identity %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("identity", id)
	}
	return nil
}

func (db *DB) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, github_id, created_at
		 FROM users WHERE email = ?`,
		email,
	)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("identity", email)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting identity by email: %w", err)
	}
	return identity, nil
}

func (db *DB) GetIdentityByGitHubID(ctx context.Context, githubID int64) (*model.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, github_id, created_at
		 FROM users WHERE github_id = ?`,
		githubID,
	)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("identity", fmt.Sprintf("github:%d", githubID))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting identity by github id %d: %w", githubID, err)
	}
	return identity, nil
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var (
		identity model.Identity
		githubID sql.NullInt64
	)
	if err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&githubID,
		&identity.CreatedAt,
	); err != nil {
		return nil, err
	}
	if githubID.Valid {
		identity.GitHubID = &githubID.Int64
	}
	return &identity, nil
}

// CreateProfile inserts the profile for an existing identity.
func (db *DB) CreateProfile(ctx context.Context, profile *model.Profile) error {
	profile.CreatedAt = db.now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, email, first_name, last_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		profile.UserID,
		profile.Email,
		profile.FirstName,
		profile.LastName,
		profile.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("profile", profile.UserID)
		}
		return fmt.Errorf("sqlite: creating profile for %s: %w", profile.UserID, err)
	}
	return nil
}

func (db *DB) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return db.getProfile(ctx, "user_id", userID)
}

func (db *DB) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return db.getProfile(ctx, "email", email)
}

// column is one of two constants above, never user input.
func (db *DB) getProfile(ctx context.Context, column, value string) (*model.Profile, error) {
	var p model.Profile
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, email, first_name, last_name, created_at
		 FROM profiles WHERE `+column+` = ?`,
		value,
	).Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", value)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting profile by %s: %w", column, err)
	}
	return &p, nil
}

func (db *DB) HasRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role = ?`,
		userID, string(role),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking role %s for %s: %w", role, userID, err)
	}
	return n > 0, nil
}

// GrantRole is idempotent.
func (db *DB) GrantRole(ctx context.Context, userID string, role model.Role) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES (?, ?)
		 ON CONFLICT(user_id, role) DO NOTHING`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("sqlite: granting role %s to %s: %w", role, userID, err)
	}
	return nil
}
