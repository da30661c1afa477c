package handler

import (
	"log/slog"
	"net/http"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
)

type RatingHandler struct {
	ratings *service.RatingService
	logger  *slog.Logger
}

func NewRatingHandler(ratings *service.RatingService, logger *slog.Logger) *RatingHandler {
	return &RatingHandler{ratings: ratings, logger: logger}
}

// HandleMine returns the caller's rating, or 404 if they have none.
//
// HTTP: GET /api/ratings/me
func (h *RatingHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	rating, err := h.ratings.Get(r.Context(), userID)
	if err != nil {
		logIfInternal(h.logger, "loading rating failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

type submitRatingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// HandleSubmit creates or replaces the caller's rating.
//
// HTTP: PUT /api/ratings/me
func (h *RatingHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req submitRatingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	rating, err := h.ratings.Submit(r.Context(), req.Rating, req.Comment, userID)
	if err != nil {
		logIfInternal(h.logger, "submitting rating failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

// HandleList returns every rating.
//
// HTTP: GET /api/admin/ratings (RequireAdmin)
func (h *RatingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.ratings.All(r.Context())
	if err != nil {
		h.logger.Error("listing ratings failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if ratings == nil {
		ratings = []model.Rating{}
	}
	writeJSON(w, http.StatusOK, ratings)
}

// HandleStats returns total, average and the per-star histogram.
//
// HTTP: GET /api/admin/ratings/stats (RequireAdmin)
func (h *RatingHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ratings.Analytics(r.Context())
	if err != nil {
		h.logger.Error("rating analytics failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
