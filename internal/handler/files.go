package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage"
)

// FilesHandler serves attachment blobs kept by the local store. Remote
// backends hand out their own URLs and never route here.
type FilesHandler struct {
	blobs  storage.BlobStore
	logger *slog.Logger
}

func NewFilesHandler(blobs storage.BlobStore, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{blobs: blobs, logger: logger}
}

// HandleGet streams one blob. Attachments are public by URL, like the
// bucket they model.
//
// HTTP: GET /files/*
func (h *FilesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if path == "" || strings.Contains(path, "..") {
		http.NotFound(w, r)
		return
	}

	body, info, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("reading attachment failed", slog.String("path", path), slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("streaming attachment interrupted", slog.String("path", path), slog.String("error", err.Error()))
	}
}
