// Package session persists browsing state between runs: view history,
// the last position in the candidate stream, and items whose transfers
// were interrupted so they can be re-requested at startup.
package session

import "time"

// ViewEvent records one item the user actually looked at.
type ViewEvent struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	ItemID   int64     `gorm:"index;not null"`
	Position int       `gorm:"not null"`
	ViewedAt time.Time `gorm:"index;not null"`
}

// Cursor stores the last navigation position. A single row keyed by
// stream keeps one cursor per candidate stream (tag query).
type Cursor struct {
	Stream    string `gorm:"primaryKey"`
	Position  int    `gorm:"not null"`
	ItemID    int64
	UpdatedAt time.Time
}

// IncompleteFetch marks a transfer that was still in flight when the
// process stopped. Partial payloads do not outlive the process (the
// cache never keeps incomplete entries), so the next run re-requests
// the item from scratch rather than resuming an offset.
type IncompleteFetch struct {
	ItemID    int64 `gorm:"primaryKey"`
	UpdatedAt time.Time
}

func allModels() []any {
	return []any{&ViewEvent{}, &Cursor{}, &IncompleteFetch{}}
}
