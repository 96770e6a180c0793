package store

import (
	"database/sql"
	"time"

	"github.com/ykvlv/funnel-bot/internal/domain"
)

// Timestamps are stored as UTC unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromMillis(ns.Int64)
	return &t
}

type userRow struct {
	ID                int64         `db:"id"`
	CreatedAt         int64         `db:"created_at"`
	Status            string        `db:"status"`
	StatusUpdatedAt   int64         `db:"status_updated_at"`
	LastMessageSentAt sql.NullInt64 `db:"last_message_sent_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:                r.ID,
		CreatedAt:         fromMillis(r.CreatedAt),
		Status:            domain.Status(r.Status),
		StatusUpdatedAt:   fromMillis(r.StatusUpdatedAt),
		LastMessageSentAt: fromNullMillis(r.LastMessageSentAt),
	}
}

type scheduleRow struct {
	UserID int64 `db:"user_id"`
	Due1   int64 `db:"due_1"`
	Due2   int64 `db:"due_2"`
	Due3   int64 `db:"due_3"`
	Sent1  int   `db:"sent_1"`
	Sent2  int   `db:"sent_2"`
	Sent3  int   `db:"sent_3"`
}

func (r scheduleRow) toDomain() domain.Schedule {
	return domain.Schedule{
		UserID: r.UserID,
		Due:    [domain.StepCount]time.Time{fromMillis(r.Due1), fromMillis(r.Due2), fromMillis(r.Due3)},
		Sent:   [domain.StepCount]bool{r.Sent1 != 0, r.Sent2 != 0, r.Sent3 != 0},
	}
}

// dueRow is a users JOIN schedules row.
type dueRow struct {
	userRow
	SUserID int64 `db:"s_user_id"`
	Due1    int64 `db:"due_1"`
	Due2    int64 `db:"due_2"`
	Due3    int64 `db:"due_3"`
	Sent1   int   `db:"sent_1"`
	Sent2   int   `db:"sent_2"`
	Sent3   int   `db:"sent_3"`
}

func (r dueRow) toEntry() DueEntry {
	return DueEntry{
		User: r.userRow.toDomain(),
		Schedule: scheduleRow{
			UserID: r.SUserID,
			Due1:   r.Due1,
			Due2:   r.Due2,
			Due3:   r.Due3,
			Sent1:  r.Sent1,
			Sent2:  r.Sent2,
			Sent3:  r.Sent3,
		}.toDomain(),
	}
}

// boolToInt converts a boolean to 1/0 for the sent_* columns.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
