package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ykvlv/funnel-bot/internal/domain"
)

// SQLRepo implements Repo on top of SQLite or PostgreSQL.
// Queries use '?' placeholders and are rebound for the active driver.
type SQLRepo struct{ db *sqlx.DB }

// markSentQueries maps each step to its conditional update; the step
// column is never built from input.
var markSentQueries = map[domain.Step]string{
	domain.Step1: `UPDATE schedules SET sent_1 = 1, attempted_at = ? WHERE user_id = ? AND sent_1 = 0`,
	domain.Step2: `UPDATE schedules SET sent_2 = 1, attempted_at = ? WHERE user_id = ? AND sent_2 = 0`,
	domain.Step3: `UPDATE schedules SET sent_3 = 1, attempted_at = ? WHERE user_id = ? AND sent_3 = 0`,
}

const userColumns = `id, created_at, status, status_updated_at, last_message_sent_at`

// Close releases the underlying database resources.
func (r *SQLRepo) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *SQLRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// GetUser returns a user by id or ErrNotFound.
func (r *SQLRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+userColumns+`
		FROM users
		WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.GetUser")
	}
	u := row.toDomain()
	return &u, nil
}

// GetSchedule returns a user's schedule or ErrNotFound.
func (r *SQLRepo) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	var row scheduleRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT user_id, due_1, due_2, due_3, sent_1, sent_2, sent_3
		FROM schedules
		WHERE user_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.GetSchedule")
	}
	s := row.toDomain()
	return &s, nil
}

// CreateUserWithSchedule inserts the user and its schedule atomically.
func (r *SQLRepo) CreateUserWithSchedule(ctx context.Context, u *domain.User, s domain.Schedule) (bool, error) {
	if u == nil {
		return false, errors.New("nil user")
	}
	if s.UserID != u.ID {
		return false, errors.Errorf("schedule user %d does not match user %d", s.UserID, u.ID)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "store.CreateUserWithSchedule.Begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		u.ID, toMillis(u.CreatedAt), string(u.Status), toMillis(u.StatusUpdatedAt),
		toNullMillis(u.LastMessageSentAt),
	)
	if err != nil {
		return false, errors.Wrap(err, "store.CreateUserWithSchedule.InsertUser")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "store.CreateUserWithSchedule.RowsAffected")
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO schedules (user_id, due_1, due_2, due_3, sent_1, sent_2, sent_3)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		s.UserID,
		toMillis(s.Due[0]), toMillis(s.Due[1]), toMillis(s.Due[2]),
		boolToInt(s.Sent[0]), boolToInt(s.Sent[1]), boolToInt(s.Sent[2]),
	); err != nil {
		return false, errors.Wrap(err, "store.CreateUserWithSchedule.InsertSchedule")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "store.CreateUserWithSchedule.Commit")
	}
	return true, nil
}

// SetStatus updates status and status_updated_at together. The update is
// skipped if the status already matches or `at` is older than the stored
// status_updated_at.
func (r *SQLRepo) SetStatus(ctx context.Context, id int64, status domain.Status, at time.Time) (bool, error) {
	if !status.Valid() {
		return false, errors.Errorf("invalid status %q", status)
	}
	ms := toMillis(at)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users
		SET status = ?, status_updated_at = ?
		WHERE id = ?
		  AND status <> ?
		  AND status_updated_at <= ?`),
		string(status), ms, id, string(status), ms,
	)
	if err != nil {
		return false, errors.Wrap(err, "store.SetStatus")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "store.SetStatus.RowsAffected")
	}
	return n > 0, nil
}

// ListDue returns up to `limit` alive users that have an unsent step due at
// or before now. Users are ordered by their last dispatch attempt, so users
// whose sends keep failing rotate behind the rest instead of filling every
// batch.
func (r *SQLRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]DueEntry, error) {
	ms := toMillis(now)
	var rows []dueRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT u.id, u.created_at, u.status, u.status_updated_at, u.last_message_sent_at,
		       s.user_id AS s_user_id, s.due_1, s.due_2, s.due_3, s.sent_1, s.sent_2, s.sent_3
		FROM users u
		JOIN schedules s ON s.user_id = u.id
		WHERE u.status = ?
		  AND ((s.sent_1 = 0 AND s.due_1 <= ?)
		       OR (s.sent_2 = 0 AND s.due_2 <= ?)
		       OR (s.sent_3 = 0 AND s.due_3 <= ?))
		ORDER BY s.attempted_at ASC, u.created_at ASC, u.id ASC
		LIMIT ?`),
		string(domain.StatusAlive), ms, ms, ms, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "store.ListDue")
	}

	res := make([]DueEntry, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toEntry())
	}
	return res, nil
}

// MarkAttempted bumps the schedule's attempted_at.
func (r *SQLRepo) MarkAttempted(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE schedules
		SET attempted_at = ?
		WHERE user_id = ?`),
		toMillis(at), id,
	); err != nil {
		return errors.Wrap(err, "store.MarkAttempted")
	}
	return nil
}

// ListOrphans returns alive users without a schedule row.
func (r *SQLRepo) ListOrphans(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT u.id
		FROM users u
		LEFT JOIN schedules s ON s.user_id = u.id
		WHERE u.status = ? AND s.user_id IS NULL
		ORDER BY u.id
		LIMIT ?`),
		string(domain.StatusAlive), limit,
	); err != nil {
		return nil, errors.Wrap(err, "store.ListOrphans")
	}
	return ids, nil
}

// MarkStepSent flips the step flag and records last_message_sent_at and
// attempted_at in one transaction. A second call for the same step changes nothing and reports false.
func (r *SQLRepo) MarkStepSent(ctx context.Context, id int64, step domain.Step, at time.Time) (bool, error) {
	q, ok := markSentQueries[step]
	if !ok {
		return false, errors.Wrapf(domain.ErrInvalidStep, "step %d", step)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "store.MarkStepSent.Begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(q), toMillis(at), id)
	if err != nil {
		return false, errors.Wrap(err, "store.MarkStepSent.Update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "store.MarkStepSent.RowsAffected")
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE users
		SET last_message_sent_at = ?
		WHERE id = ?`),
		toMillis(at), id,
	); err != nil {
		return false, errors.Wrap(err, "store.MarkStepSent.Touch")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "store.MarkStepSent.Commit")
	}
	return true, nil
}

// CountByStatus returns the number of users per status.
func (r *SQLRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n
		FROM users
		GROUP BY status`,
	); err != nil {
		return nil, errors.Wrap(err, "store.CountByStatus")
	}

	res := map[domain.Status]int{domain.StatusAlive: 0, domain.StatusFinished: 0}
	for _, row := range rows {
		res[domain.Status(row.Status)] = row.N
	}
	return res, nil
}
