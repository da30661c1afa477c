package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
)

type RatingService struct {
	repo   repository.RatingRepository
	logger *slog.Logger
}

func NewRatingService(repo repository.RatingRepository, logger *slog.Logger) *RatingService {
	return &RatingService{repo: repo, logger: logger}
}

type ratingInput struct {
	Rating  int    `json:"rating"  validate:"gte=1,lte=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

// Submit creates or replaces the user's rating.
func (s *RatingService) Submit(ctx context.Context, rating int, comment, userID string) (*model.Rating, error) {
	in := ratingInput{Rating: rating, Comment: strings.TrimSpace(comment)}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperror.Unauthorized("not signed in")
	}

	stored, err := s.repo.UpsertRating(ctx, &model.Rating{Rating: in.Rating, Comment: in.Comment, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("service/rating: submitting: %w", err)
	}

	s.logger.Info("rating submitted", slog.String("userID", userID), slog.Int("rating", stored.Rating))
	return stored, nil
}

// Get returns apperror.ErrNotFound when the user has not rated yet.
func (s *RatingService) Get(ctx context.Context, userID string) (*model.Rating, error) {
	return s.repo.GetRatingByUser(ctx, userID)
}

func (s *RatingService) All(ctx context.Context) ([]model.Rating, error) {
	ratings, err := s.repo.ListRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/rating: listing: %w", err)
	}
	return ratings, nil
}

// Analytics recomputes the statistics from the full rating set on every
// call.
func (s *RatingService) Analytics(ctx context.Context) (*model.RatingStats, error) {
	ratings, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(ratings)
	return &stats, nil
}

// ComputeStats builds the 1..5 histogram and the mean. An empty set has
// average 0. Values outside 1..5 count toward the total and average only.
func ComputeStats(ratings []model.Rating) model.RatingStats {
	stats := model.RatingStats{
		Total:        len(ratings),
		Distribution: make([]model.StarCount, 5),
	}
	for i := range stats.Distribution {
		star := i + 1
		name := fmt.Sprintf("%d Stars", star)
		if star == 1 {
			name = "1 Star"
		}
		stats.Distribution[i] = model.StarCount{Name: name, Rating: star}
	}

	sum := 0
	for _, r := range ratings {
		sum += r.Rating
		if r.Rating >= 1 && r.Rating <= 5 {
			stats.Distribution[r.Rating-1].Count++
		}
	}
	if stats.Total > 0 {
		stats.Average = float64(sum) / float64(stats.Total)
	}
	return stats
}
