package model

import "time"

// ProblemStatus is either pending or resolved. Admins may move a problem
// in both directions.
type ProblemStatus string

const (
	StatusPending  ProblemStatus = "pending"
	StatusResolved ProblemStatus = "resolved"
)

// Valid reports whether s is one of the known statuses.
func (s ProblemStatus) Valid() bool {
	return s == StatusPending || s == StatusResolved
}

// Problem is a support ticket submitted by a student. Only the admin
// response and the status ever change after creation.
type Problem struct {
	ID            string        `json:"id"            db:"id"`
	Title         string        `json:"title"         db:"title"`
	Description   string        `json:"description"   db:"description"`
	UserID        string        `json:"userId"        db:"user_id"`
	Status        ProblemStatus `json:"status"        db:"status"`
	AdminResponse *string       `json:"adminResponse" db:"admin_response"` // nil until an admin answers
	CreatedAt     time.Time     `json:"createdAt"     db:"created_at"`
	UpdatedAt     time.Time     `json:"updatedAt"     db:"updated_at"`
	Attachments   []Attachment  `json:"attachments"`
}

// Resolved is a template convenience.
func (p *Problem) Resolved() bool {
	return p.Status == StatusResolved
}

// Attachment is the metadata row for one uploaded file. The bytes live in
// the blob store under FilePath; URL is derived from it on read.
type Attachment struct {
	ID        string    `json:"id"        db:"id"`
	ProblemID string    `json:"problemId" db:"problem_id"`
	FileName  string    `json:"fileName"  db:"file_name"`
	FilePath  string    `json:"filePath"  db:"file_path"`
	FileSize  int64     `json:"fileSize"  db:"file_size"`
	MimeType  string    `json:"mimeType"  db:"mime_type"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	URL       string    `json:"url"`
}
