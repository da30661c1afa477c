package model

import "time"

type Notification struct {
	ID        string    `json:"id"        db:"id"`
	UserID    string    `json:"userId"    db:"user_id"`
	Message   string    `json:"message"   db:"message"`
	Read      bool      `json:"read"      db:"is_read"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
