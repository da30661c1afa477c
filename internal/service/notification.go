package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
)

type NotificationService struct {
	repo     repository.NotificationRepository
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

func NewNotificationService(repo repository.NotificationRepository, profiles repository.ProfileRepository, logger *slog.Logger) *NotificationService {
	return &NotificationService{repo: repo, profiles: profiles, logger: logger}
}

func (s *NotificationService) Unread(ctx context.Context, userID string) ([]model.Notification, error) {
	list, err := s.repo.ListUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/notification: listing unread: %w", err)
	}
	return list, nil
}

// MarkAsRead only touches the caller's own notification.
func (s *NotificationService) MarkAsRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("service/notification: marking all read: %w", err)
	}
	return n, nil
}

type notifyInput struct {
	Message string `json:"message" validate:"required,max=500"`
}

func (s *NotificationService) Notify(ctx context.Context, userID, message string) (*model.Notification, error) {
	in := notifyInput{Message: strings.TrimSpace(message)}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	n := &model.Notification{UserID: userID, Message: in.Message}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("service/notification: creating: %w", err)
	}

	s.logger.Debug("notification created", slog.String("userID", userID), slog.String("id", n.ID))
	return n, nil
}

// NotifyEmail resolves the address to a profile and notifies it. Used by
// portalctl.
func (s *NotificationService) NotifyEmail(ctx context.Context, email, message string) (*model.Notification, error) {
	profile, err := s.profiles.GetProfileByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("service/notification: finding %s: %w", email, err)
	}
	return s.Notify(ctx, profile.UserID, message)
}
