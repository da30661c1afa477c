package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/service"
)

const (
	// maxUploadFiles bounds one multipart request.
	maxUploadFiles  = 10
	maxUploadBody   = maxUploadFiles*service.MaxAttachmentSize + 1<<20
	multipartMemory = 8 << 20
	attachmentField = "files"
)

type ProblemHandler struct {
	problems *service.ProblemService
	logger   *slog.Logger
}

func NewProblemHandler(problems *service.ProblemService, logger *slog.Logger) *ProblemHandler {
	return &ProblemHandler{problems: problems, logger: logger}
}

// HandleList returns every problem, newest first, with attachments.
//
// HTTP: GET /api/problems
func (h *ProblemHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	problems, err := h.problems.List(r.Context())
	if err != nil {
		h.logger.Error("listing problems failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if problems == nil {
		problems = []model.Problem{}
	}
	writeJSON(w, http.StatusOK, problems)
}

// HandleGet returns one problem.
//
// HTTP: GET /api/problems/{id}
func (h *ProblemHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	problem, err := h.problems.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logIfInternal(h.logger, "loading problem failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

type createProblemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HandleCreate submits a problem for the signed-in user.
//
// HTTP: POST /api/problems
func (h *ProblemHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req createProblemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	problem, err := h.problems.Create(r.Context(), req.Title, req.Description, userID)
	if err != nil {
		logIfInternal(h.logger, "creating problem failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, problem)
}

// HandleUpload attaches the files in the "files" form field to a problem.
// Files are stored one by one; the first failure stops the request and
// the files stored before it are kept.
//
// HTTP: POST /api/problems/{id}/attachments (multipart/form-data)
func (h *ProblemHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	files, err := multipartFiles(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(files) == 0 {
		writeError(w, apperror.ValidationFailed(attachmentField, "At least one file is required"))
		return
	}

	attachments, err := h.storeAll(r, userID, chi.URLParam(r, "id"), files)
	if err != nil {
		logIfInternal(h.logger, "uploading attachment failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachments)
}

func (h *ProblemHandler) storeAll(r *http.Request, userID, problemID string, files []*multipart.FileHeader) ([]model.Attachment, error) {
	out := make([]model.Attachment, 0, len(files))
	for _, fh := range files {
		a, err := uploadFile(r, h.problems, userID, problemID, fh)
		if err != nil {
			return out, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// uploadFile hands one multipart file to the problem service.
func uploadFile(r *http.Request, problems *service.ProblemService, userID, problemID string, fh *multipart.FileHeader) (*model.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("handler: opening upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	return problems.UploadAttachment(r.Context(), userID, problemID, service.FileUpload{
		Name: fh.Filename,
		Size: fh.Size,
		Body: f,
	})
}

type updateProblemRequest struct {
	AdminResponse string              `json:"adminResponse"`
	Status        model.ProblemStatus `json:"status"`
}

// HandleUpdate records an admin response and status.
//
// HTTP: PATCH /api/admin/problems/{id} (RequireAdmin)
func (h *ProblemHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req updateProblemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	problem, err := h.problems.Update(r.Context(), userID, chi.URLParam(r, "id"), req.AdminResponse, req.Status)
	if err != nil {
		logIfInternal(h.logger, "updating problem failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

// multipartFiles parses the request and returns the uploaded file headers.
// A body over the limit or too many files is a validation error.
func multipartFiles(w http.ResponseWriter, r *http.Request) ([]*multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperror.ValidationFailed(attachmentField, "Upload is too large")
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, apperror.ValidationFailed(attachmentField, "Invalid multipart form")
	}

	files := r.MultipartForm.File[attachmentField]
	if len(files) > maxUploadFiles {
		return nil, apperror.ValidationFailed(attachmentField, fmt.Sprintf("At most %d files per upload", maxUploadFiles))
	}
	return files, nil
}
