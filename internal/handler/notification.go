package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/authstate"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/notify"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
)

type NotificationHandler struct {
	notifications *service.NotificationService
	poller        *notify.Poller
	broker        *authstate.Broker
	logger        *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func NewNotificationHandler(
	notifications *service.NotificationService,
	poller *notify.Poller,
	broker *authstate.Broker,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		poller:        poller,
		broker:        broker,
		logger:        logger,
		closing:       make(chan struct{}),
	}
}

// CloseStreams ends every open event stream. http.Server.Shutdown waits
// for handlers to return, and streams otherwise never do.
func (h *NotificationHandler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// HandleUnread returns the caller's unread notifications, newest first.
//
// HTTP: GET /api/notifications
func (h *NotificationHandler) HandleUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	list, err := h.notifications.Unread(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing notifications failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleMarkRead marks one of the caller's notifications read.
//
// HTTP: POST /api/notifications/{id}/read
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.notifications.MarkAsRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		logIfInternal(h.logger, "marking notification read failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkAllRead marks all of the caller's notifications read.
//
// HTTP: POST /api/notifications/read-all
func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	n, err := h.notifications.MarkAllAsRead(r.Context(), userID)
	if err != nil {
		h.logger.Error("marking notifications read failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// HandleStream pushes the unread list as Server-Sent Events on every poll.
// The stream ends when the client goes away or the user signs out.
//
// HTTP: GET /api/notifications/stream
func (h *NotificationHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	rc := http.NewResponseController(w)
	// the server's write timeout would cut the stream
	_ = rc.SetWriteDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := h.broker.Listen(ctx, 4)
	updates := make(chan []model.Notification)
	go h.poller.Run(ctx, userID, func(list []model.Notification) {
		select {
		case updates <- list:
		case <-ctx.Done():
		}
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("notification stream: flush unsupported", slog.String("error", err.Error()))
		return
	}

	h.logger.Debug("notification stream opened", slog.String("userID", userID))
	defer h.logger.Debug("notification stream closed", slog.String("userID", userID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return

		case list := <-updates:
			if list == nil {
				list = []model.Notification{}
			}
			if err := writeEvent(w, "notifications", list); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == authstate.SignedOut && e.UserID == userID {
				_ = writeEvent(w, "signed_out", struct{}{})
				_ = rc.Flush()
				return
			}
		}
	}
}

func writeEvent(w io.Writer, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
