package model

import "time"

// Rating is one user's 1–5 score for the institution. There is at most one
// per user; resubmitting replaces it.
type Rating struct {
	ID        string    `json:"id"                db:"id"`
	Rating    int       `json:"rating"            db:"rating"`
	Comment   string    `json:"comment,omitempty" db:"comment"`
	UserID    string    `json:"userId"            db:"user_id"`
	CreatedAt time.Time `json:"createdAt"         db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt"         db:"updated_at"`
}

// StarCount is one slice of the rating histogram.
type StarCount struct {
	Name   string `json:"name"` // "1 Star", "2 Stars", ...
	Rating int    `json:"rating"`
	Count  int    `json:"count"`
}

// RatingStats is computed in memory from the full rating set.
type RatingStats struct {
	Total        int         `json:"total"`
	Average      float64     `json:"average"`
	Distribution []StarCount `json:"distribution"`
}

// CountFor returns the histogram count for the given star value.
func (s RatingStats) CountFor(rating int) int {
	for _, c := range s.Distribution {
		if c.Rating == rating {
			return c.Count
		}
	}
	return 0
}
