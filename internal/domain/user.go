package domain

import "time"

// Status is a user's position in the funnel lifecycle.
type Status string

const (
	StatusAlive    Status = "alive"
	StatusFinished Status = "finished" // terminal
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusAlive || s == StatusFinished
}

// User represents a tracked chat and its funnel lifecycle state.
type User struct {
	ID                int64      // Telegram user/chat id
	CreatedAt         time.Time  // UTC, set once
	Status            Status
	StatusUpdatedAt   time.Time  // UTC, changes together with Status
	LastMessageSentAt *time.Time // UTC, nullable
}

// NewUser builds a fresh alive user first seen at `at`.
func NewUser(id int64, at time.Time) *User {
	at = at.UTC()
	return &User{
		ID:              id,
		CreatedAt:       at,
		Status:          StatusAlive,
		StatusUpdatedAt: at,
	}
}

// Finished reports whether no more scheduled messages may be sent to u.
func (u *User) Finished() bool {
	return u.Status == StatusFinished
}
