// Package model defines the records the portal stores and serves.
package model

import "time"

// Identity is the credential record behind a Profile. It never leaves the
// server: the password hash and GitHub link are only read by the auth service.
type Identity struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"` // empty for GitHub-only accounts
	GitHubID     *int64    `db:"github_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// Profile is the public face of a user. Created once at sign-up and
// immutable afterwards.
type Profile struct {
	UserID    string    `json:"userId"    db:"user_id"`
	Email     string    `json:"email"     db:"email"`
	FirstName string    `json:"firstName" db:"first_name"`
	LastName  string    `json:"lastName"  db:"last_name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Role is a name in the role-assignment table. Only "admin" is used.
type Role string

const RoleAdmin Role = "admin"

// Session is what a successful sign-in (or sign-up, or refresh) hands back.
type Session struct {
	AccessToken string    `json:"accessToken"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        *Profile  `json:"user"`
}
