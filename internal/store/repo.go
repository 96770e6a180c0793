package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ykvlv/funnel-bot/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DueEntry is a user selected by ListDue together with its schedule.
type DueEntry struct {
	User     domain.User
	Schedule domain.Schedule
}

// Repo defines storage operations for funnel users and their schedules.
type Repo interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error)
	// CreateUserWithSchedule inserts both rows in one transaction.
	// It reports false without error if the user already exists.
	CreateUserWithSchedule(ctx context.Context, u *domain.User, s domain.Schedule) (bool, error)
	// SetStatus moves a user to status; it reports false when nothing changed
	// (unknown user, same status, or an older timestamp).
	SetStatus(ctx context.Context, id int64, status domain.Status, at time.Time) (bool, error)
	// ListDue returns alive users with at least one unsent step due at now,
	// least recently attempted first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]DueEntry, error)
	// MarkStepSent sets the step flag and last_message_sent_at only if the
	// flag was still unset; it reports whether this call set it.
	MarkStepSent(ctx context.Context, id int64, step domain.Step, at time.Time) (bool, error)
	// MarkAttempted records a failed dispatch so the user moves behind
	// others in the next ListDue.
	MarkAttempted(ctx context.Context, id int64, at time.Time) error
	// ListOrphans returns ids of alive users that have no schedule row.
	ListOrphans(ctx context.Context, limit int) ([]int64, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
	Ping(ctx context.Context) error
	Close() error
}
