package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/xid"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/apperror"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/model"
	"github.com/stazh-ux/lavendel-ask-resolve/internal/repository"
)

var (
	_ repository.ProblemRepository    = (*DB)(nil)
	_ repository.AttachmentRepository = (*DB)(nil)
)

var problemColumns = []string{
	"id", "title", "description", "user_id", "status",
	"admin_response", "created_at", "updated_at",
}

// CreateProblem inserts a new problem. Status is forced to pending and
// the admin response to NULL.
func (db *DB) CreateProblem(ctx context.Context, problem *model.Problem) error {
	now := db.now()
	problem.ID = xid.New().String()
	problem.Status = model.StatusPending
	problem.AdminResponse = nil
	problem.CreatedAt = now
	problem.UpdatedAt = now
	problem.Attachments = []model.Attachment{}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO problems (id, title, description, user_id, status, admin_response, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		problem.ID,
		problem.Title,
		problem.Description,
		problem.UserID,
		string(problem.Status),
		problem.CreatedAt,
		problem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating problem: %w", err)
	}
	return nil
}

func (db *DB) GetProblem(ctx context.Context, id string) (*model.Problem, error) {
	problems, err := db.queryProblems(ctx,
		sq.Select(problemColumns...).From("problems").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting problem %s: %w", id, err)
	}
	if len(problems) == 0 {
		return nil, apperror.NotFound("problem", id)
	}
	return &problems[0], nil
}

// ListProblems returns the full history, newest first. IDs break ties
// between problems created within the same clock tick.
func (db *DB) ListProblems(ctx context.Context) ([]model.Problem, error) {
	problems, err := db.queryProblems(ctx,
		sq.Select(problemColumns...).From("problems").OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing problems: %w", err)
	}
	return problems, nil
}

// UpdateProblemResponse overwrites the response and status. Any status
// change is accepted; the caller has already validated the value.
func (db *DB) UpdateProblemResponse(ctx context.Context, id string, response *string, status model.ProblemStatus) (*model.Problem, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE problems SET admin_response = ?, status = ?, updated_at = ? WHERE id = ?`,
		response, string(status), db.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating problem %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, apperror.NotFound("problem", id)
	}
	return db.GetProblem(ctx, id)
}

// queryProblems loads the problem rows first and closes them before
// fetching attachments in one IN query.
func (db *DB) queryProblems(ctx context.Context, b sq.SelectBuilder) ([]model.Problem, error) {
	rows, err := db.selectRows(ctx, b)
	if err != nil {
		return nil, err
	}

	problems := make([]model.Problem, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			p        model.Problem
			status   string
			response sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.Title, &p.Description, &p.UserID, &status,
			&response, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning problem row: %w", err)
		}
		p.Status = model.ProblemStatus(status)
		if response.Valid {
			p.AdminResponse = &response.String
		}
		p.Attachments = []model.Attachment{}
		index[p.ID] = len(problems)
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating problems: %w", err)
	}
	rows.Close()

	if len(problems) == 0 {
		return problems, nil
	}

	ids := make([]string, 0, len(problems))
	for _, p := range problems {
		ids = append(ids, p.ID)
	}
	attachments, err := db.listAttachments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		i := index[a.ProblemID]
		problems[i].Attachments = append(problems[i].Attachments, a)
	}
	return problems, nil
}

func (db *DB) listAttachments(ctx context.Context, problemIDs []string) ([]model.Attachment, error) {
	rows, err := db.selectRows(ctx,
		sq.Select("id", "problem_id", "file_name", "file_path", "file_size", "mime_type", "created_at").
			From("problem_attachments").
			Where(sq.Eq{"problem_id": problemIDs}).
			OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var attachments []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(
			&a.ID, &a.ProblemID, &a.FileName, &a.FilePath,
			&a.FileSize, &a.MimeType, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachments: %w", err)
	}
	return attachments, nil
}

// CreateAttachment records metadata for a blob that is already stored.
func (db *DB) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	a.ID = xid.New().String()
	a.CreatedAt = db.now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO problem_attachments (id, problem_id, file_name, file_path, file_size, mime_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProblemID, a.FileName, a.FilePath, a.FileSize, a.MimeType, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("attachment", a.FilePath)
		}
		return fmt.Errorf("sqlite: creating attachment for problem %s: %w", a.ProblemID, err)
	}
	return nil
}
