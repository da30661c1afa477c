// Package repository declares the storage contracts the services depend on.
//
// The sqlite subpackage implements all of them on a single *sqlite.DB;
// service tests use hand-written fakes.
package repository

import (
	"context"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
)

type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity *model.Identity) error
	DeleteIdentity(ctx context.Context, id string) error
	// GetIdentityByEmail returns apperror.ErrNotFound when no identity uses the address.
	GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error)
	GetIdentityByGitHubID(ctx context.Context, githubID int64) (*model.Identity, error)
}

type ProfileRepository interface {
	CreateProfile(ctx context.Context, profile *model.Profile) error
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error)
}

// RoleRepository is the role-assignment lookup table. A missing row means
// the user does not hold the role; it is not an error.
type RoleRepository interface {
	HasRole(ctx context.Context, userID string, role model.Role) (bool, error)
	GrantRole(ctx context.Context, userID string, role model.Role) error
}

type ProblemRepository interface {
	CreateProblem(ctx context.Context, problem *model.Problem) error
	// GetProblem returns the problem with its attachments.
	GetProblem(ctx context.Context, id string) (*model.Problem, error)
	// ListProblems returns every problem newest first, attachments joined.
	ListProblems(ctx context.Context) ([]model.Problem, error)
	UpdateProblemResponse(ctx context.Context, id string, response *string, status model.ProblemStatus) (*model.Problem, error)
}

type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, attachment *model.Attachment) error
}

type RatingRepository interface {
	// UpsertRating inserts or replaces the caller's single rating and
	// returns the stored row.
	UpsertRating(ctx context.Context, rating *model.Rating) (*model.Rating, error)
	GetRatingByUser(ctx context.Context, userID string) (*model.Rating, error)
	ListRatings(ctx context.Context) ([]model.Rating, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListUnread(ctx context.Context, userID string) ([]model.Notification, error)
	// MarkRead is scoped to the owner: another user's notification is NotFound.
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}
