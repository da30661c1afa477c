package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/auth"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage"
)

const (
	MaxAttachmentSize   = 5 << 20
	MaxAdminResponseLen = 5000
	maxFileNameLen      = 255
)

// allowedAttachments maps accepted extensions to the stored content type.
// The type sent by the browser is ignored.
var allowedAttachments = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// Notifier delivers a message to a user's notification list.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) (*model.Notification, error)
}

type ProblemStore interface {
	repository.ProblemRepository
	repository.AttachmentRepository
}

type ProblemService struct {
	store    ProblemStore
	blobs    storage.BlobStore
	admins   auth.AdminChecker
	notifier Notifier
	logger   *slog.Logger
}

func NewProblemService(
	store ProblemStore,
	blobs storage.BlobStore,
	admins auth.AdminChecker,
	notifier Notifier,
	logger *slog.Logger,
) *ProblemService {
	return &ProblemService{
		store:    store,
		blobs:    blobs,
		admins:   admins,
		notifier: notifier,
		logger:   logger,
	}
}

type problemInput struct {
	Title       string `json:"title"       validate:"required,max=200"`
	Description string `json:"description" validate:"min=10,max=2000"`
}

// Create validates before touching the store, so an out-of-bounds title or
// description never reaches the database.
func (s *ProblemService) Create(ctx context.Context, title, description, userID string) (*model.Problem, error) {
	in := problemInput{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, apperror.Unauthorized("not signed in")
	}

	problem := &model.Problem{Title: in.Title, Description: in.Description, UserID: userID}
	if err := s.store.CreateProblem(ctx, problem); err != nil {
		s.logger.Error("failed to create problem",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/problem: creating: %w", err)
	}

	s.logger.Info("problem created", slog.String("id", problem.ID), slog.String("userID", userID))
	return problem, nil
}

// List returns every problem, newest first, with attachment URLs filled in.
func (s *ProblemService) List(ctx context.Context) ([]model.Problem, error) {
	problems, err := s.store.ListProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/problem: listing: %w", err)
	}
	for i := range problems {
		s.fillURLs(&problems[i])
	}
	return problems, nil
}

func (s *ProblemService) Get(ctx context.Context, id string) (*model.Problem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "problem ID is required")
	}
	problem, err := s.store.GetProblem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fillURLs(problem)
	return problem, nil
}

type updateInput struct {
	AdminResponse string `json:"adminResponse" validate:"max=5000"`
	Status        string `json:"status"        validate:"required,oneof=pending resolved"`
}

// Update sets the admin response and status. Only admins may call it.
// Status may move in either direction; resolving needs a non-empty
// response. The owner is notified, and a failed notification does not
// fail the update.
func (s *ProblemService) Update(ctx context.Context, actorID, problemID, response string, status model.ProblemStatus) (*model.Problem, error) {
	isAdmin, err := s.admins.IsAdmin(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("service/problem: %w", err)
	}
	if !isAdmin {
		return nil, apperror.Forbidden("only admins can respond to problems")
	}

	in := updateInput{AdminResponse: strings.TrimSpace(response), Status: string(status)}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if status == model.StatusResolved && in.AdminResponse == "" {
		return nil, apperror.ValidationFailed("adminResponse", "Response is required to resolve a problem")
	}

	var stored *string
	if in.AdminResponse != "" {
		stored = &in.AdminResponse
	}

	problem, err := s.store.UpdateProblemResponse(ctx, problemID, stored, status)
	if err != nil {
		return nil, fmt.Errorf("service/problem: updating %s: %w", problemID, err)
	}
	s.fillURLs(problem)

	s.logger.Info("problem updated",
		slog.String("id", problem.ID),
		slog.String("status", string(problem.Status)),
		slog.String("adminID", actorID),
	)

	if problem.UserID != actorID {
		if _, err := s.notifier.Notify(ctx, problem.UserID, updateMessage(problem)); err != nil {
			s.logger.Error("failed to notify problem owner",
				slog.String("problemID", problem.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return problem, nil
}

func updateMessage(p *model.Problem) string {
	msg := fmt.Sprintf("Your problem %q is now %s.", p.Title, p.Status)
	if p.AdminResponse != nil {
		msg += " An admin has responded."
	}
	return msg
}

// FileUpload is one file from a multipart form.
type FileUpload struct {
	Name string
	Size int64
	Body io.Reader
}

// UploadAttachment stores the file under "<problemID>/<uuid>.<ext>" and
// records its metadata. The owner or an admin may attach files. If the
// metadata row cannot be written the blob is deleted again.
func (s *ProblemService) UploadAttachment(ctx context.Context, actorID, problemID string, file FileUpload) (*model.Attachment, error) {
	problem, err := s.store.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if problem.UserID != actorID {
		isAdmin, err := s.admins.IsAdmin(ctx, actorID)
		if err != nil {
			return nil, fmt.Errorf("service/problem: %w", err)
		}
		if !isAdmin {
			return nil, apperror.Forbidden("you can only attach files to your own problems")
		}
	}

	name := strings.TrimSpace(filepath.Base(file.Name))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	contentType, ok := allowedAttachments[ext]
	if name == "" || name == "." || !ok {
		return nil, apperror.ValidationFailed("file", "File must be a PDF, JPG or PNG")
	}
	if len(name) > maxFileNameLen {
		return nil, apperror.ValidationFailed("file", "File name is too long")
	}
	if file.Size <= 0 {
		return nil, apperror.ValidationFailed("file", "File is empty")
	}
	if file.Size > MaxAttachmentSize {
		return nil, apperror.ValidationFailed("file", "File must be 5 MB or smaller")
	}

	path := problem.ID + "/" + uuid.NewString() + "." + ext
	if err := s.blobs.Put(ctx, path, file.Body, file.Size, contentType); err != nil {
		return nil, fmt.Errorf("service/problem: storing %s: %w", path, err)
	}

	attachment := &model.Attachment{
		ProblemID: problem.ID,
		FileName:  name,
		FilePath:  path,
		FileSize:  file.Size,
		MimeType:  contentType,
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		if delErr := s.blobs.Delete(ctx, path); delErr != nil {
			s.logger.Error("orphaned attachment blob",
				slog.String("path", path),
				slog.String("error", delErr.Error()),
			)
			err = errors.Join(err, delErr)
		}
		return nil, fmt.Errorf("service/problem: recording attachment: %w", err)
	}

	attachment.URL = s.blobs.PublicURL(path)
	s.logger.Info("attachment uploaded",
		slog.String("problemID", problem.ID),
		slog.String("path", path),
		slog.Int64("size", file.Size),
	)
	return attachment, nil
}

func (s *ProblemService) fillURLs(p *model.Problem) {
	for i := range p.Attachments {
		p.Attachments[i].URL = s.blobs.PublicURL(p.Attachments[i].FilePath)
	}
}
