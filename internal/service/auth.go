// Package service holds the portal's business rules. Handlers call
// services; services call repositories and the blob store. Every
// authorization decision is made here, not in the pages.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/authstate"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
)

// UserStore is everything AuthService needs from storage. *sqlite.DB
// satisfies it.
type UserStore interface {
	repository.IdentityRepository
	repository.ProfileRepository
	repository.RoleRepository
}

// AuthService signs users up, in and out, and answers "is this user an
// admin". Every session transition is published on the broker.
type AuthService struct {
	users       UserStore
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	denylist    auth.Denylist
	broker      *authstate.Broker
	adminEmails map[string]bool
	logger      *slog.Logger
}

func NewAuthService(
	users UserStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	denylist auth.Denylist,
	broker *authstate.Broker,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		tokens:      tokens,
		passwords:   passwords,
		denylist:    denylist,
		broker:      broker,
		adminEmails: map[string]bool{},
		logger:      logger,
	}
}

// SetAdminEmails lists addresses that receive the admin role when their
// account is created.
func (s *AuthService) SetAdminEmails(emails []string) {
	s.adminEmails = make(map[string]bool, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			s.adminEmails[e] = true
		}
	}
}

var errBadCredentials = apperror.Unauthorized("invalid email or password")

type signUpInput struct {
	Email     string `json:"email"     validate:"required,email"`
	Password  string `json:"password"  validate:"min=8,max=72"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName"  validate:"required,max=100"`
}

// SignUp creates the identity and its profile, then signs the user in.
// If the profile cannot be written the identity is removed again.
func (s *AuthService) SignUp(ctx context.Context, email, password, firstName, lastName string) (*model.Session, error) {
	in := signUpInput{
		Email:     normalizeEmail(email),
		Password:  password,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if len(in.Password) > auth.MaxPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordLength))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	identity := &model.Identity{Email: in.Email, PasswordHash: hash}
	profile, err := s.createAccount(ctx, identity, in.FirstName, in.LastName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", slog.String("userID", profile.UserID))
	return s.startSession(profile)
}

// SignIn exchanges credentials for a session. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	identity, err := s.users.GetIdentityByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: looking up identity: %w", err)
	}

	if err := s.passwords.Verify(identity.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	profile, err := s.users.GetProfile(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading profile %s: %w", identity.ID, err)
	}

	return s.startSession(profile)
}

// SignOut revokes the token. Signing out with a token that is already
// invalid is a no-op.
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil
	}

	if err := s.denylist.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		return fmt.Errorf("service/auth: revoking token: %w", err)
	}

	s.broker.Publish(authstate.Event{Type: authstate.SignedOut, UserID: claims.UserID, TokenID: claims.TokenID})
	s.logger.Info("user signed out", slog.String("userID", claims.UserID))
	return nil
}

// VerifyToken returns the user ID of a valid, unrevoked token.
func (s *AuthService) VerifyToken(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.verify(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *AuthService) verify(ctx context.Context, accessToken string) (*auth.Claims, error) {
	claims, err := s.tokens.Parse(accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthorized("session expired")
		}
		return nil, apperror.Unauthorized("invalid session")
	}

	revoked, err := s.denylist.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking revocation: %w", err)
	}
	if revoked {
		return nil, apperror.Unauthorized("session has been signed out")
	}
	return claims, nil
}

// GetSession describes the session behind a token.
func (s *AuthService) GetSession(ctx context.Context, accessToken string) (*model.Session, error) {
	claims, err := s.verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	profile, err := s.GetCurrentUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	return &model.Session{
		AccessToken: accessToken,
		TokenID:     claims.TokenID,
		ExpiresAt:   claims.ExpiresAt,
		User:        profile,
	}, nil
}

func (s *AuthService) GetCurrentUser(ctx context.Context, userID string) (*model.Profile, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("not signed in")
	}
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching profile %s: %w", userID, err)
	}
	return profile, nil
}

// RefreshSession swaps a valid token for a fresh one and revokes the old.
func (s *AuthService) RefreshSession(ctx context.Context, accessToken string) (*model.Session, error) {
	claims, err := s.verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	profile, err := s.GetCurrentUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.Issue(profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	if err := s.denylist.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		return nil, fmt.Errorf("service/auth: revoking old token: %w", err)
	}

	s.broker.Publish(authstate.Event{Type: authstate.TokenRefreshed, UserID: profile.UserID, TokenID: tok.ID})
	return &model.Session{AccessToken: tok.Value, TokenID: tok.ID, ExpiresAt: tok.ExpiresAt, User: profile}, nil
}

// OnAuthStateChange registers fn for every session transition. The caller
// must Unsubscribe when it no longer cares.
func (s *AuthService) OnAuthStateChange(fn authstate.Listener) *authstate.Subscription {
	return s.broker.Subscribe(fn)
}

// IsAdmin reports whether the user holds the admin role. A missing role
// row is a plain false.
func (s *AuthService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ok, err := s.users.HasRole(ctx, userID, model.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("service/auth: checking admin role: %w", err)
	}
	return ok, nil
}

// GrantAdmin gives the account with this email the admin role.
func (s *AuthService) GrantAdmin(ctx context.Context, email string) (*model.Profile, error) {
	profile, err := s.users.GetProfileByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("service/auth: finding %s: %w", email, err)
	}
	if err := s.users.GrantRole(ctx, profile.UserID, model.RoleAdmin); err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	s.broker.Publish(authstate.Event{Type: authstate.UserUpdated, UserID: profile.UserID})
	s.logger.Info("admin role granted", slog.String("userID", profile.UserID))
	return profile, nil
}

// LoginOrRegisterGitHub signs in through GitHub. The first login creates
// the identity and profile; later logins find them by GitHub ID. An email
// that already belongs to a password account is a Conflict.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*model.Session, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	identity, err := s.users.GetIdentityByGitHubID(ctx, ghUser.ID)
	switch {
	case err == nil:
		profile, err := s.users.GetProfile(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("service/auth: loading profile %s: %w", identity.ID, err)
		}
		return s.startSession(profile)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up github id %d: %w", ghUser.ID, err)
	}

	ghID := ghUser.ID
	first, last := ghUser.FirstLast()
	identity = &model.Identity{Email: normalizeEmail(ghUser.Email), GitHubID: &ghID}
	profile, err := s.createAccount(ctx, identity, first, last)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered via GitHub",
		slog.String("userID", profile.UserID),
		slog.String("login", ghUser.Login),
	)
	return s.startSession(profile)
}

// createAccount writes identity then profile, undoing the identity when
// the profile insert fails.
func (s *AuthService) createAccount(ctx context.Context, identity *model.Identity, first, last string) (*model.Profile, error) {
	if err := s.users.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "an account with this email already exists",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("service/auth: creating identity: %w", err)
	}

	profile := &model.Profile{
		UserID:    identity.ID,
		Email:     identity.Email,
		FirstName: first,
		LastName:  last,
	}
	if err := s.users.CreateProfile(ctx, profile); err != nil {
		if delErr := s.users.DeleteIdentity(ctx, identity.ID); delErr != nil {
			s.logger.Error("orphaned identity after failed sign-up",
				slog.String("userID", identity.ID),
				slog.String("error", delErr.Error()),
			)
			return nil, fmt.Errorf("service/auth: creating profile: %w", errors.Join(err, delErr))
		}
		return nil, fmt.Errorf("service/auth: creating profile: %w", err)
	}

	if s.adminEmails[identity.Email] {
		if err := s.users.GrantRole(ctx, identity.ID, model.RoleAdmin); err != nil {
			s.logger.Error("failed to grant bootstrap admin role",
				slog.String("userID", identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return profile, nil
}

func (s *AuthService) startSession(profile *model.Profile) (*model.Session, error) {
	tok, err := s.tokens.Issue(profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	s.broker.Publish(authstate.Event{Type: authstate.SignedIn, UserID: profile.UserID, TokenID: tok.ID})
	return &model.Session{
		AccessToken: tok.Value,
		TokenID:     tok.ID,
		ExpiresAt:   tok.ExpiresAt,
		User:        profile,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
