package funnel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/funnel-bot/internal/domain"
	"github.com/ykvlv/funnel-bot/internal/store"
)

// Messenger is the chat platform port the engine sends through and reads
// recent history from. telegram.Client implements it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	RecentHistory(ctx context.Context, chatID int64, limit int) ([]string, error)
	// ForgetHistory drops whatever is kept for a chat that left the funnel.
	ForgetHistory(chatID int64)
}

// Config holds the funnel parameters.
type Config struct {
	Offsets      domain.Offsets
	Texts        [domain.StepCount]string
	HistoryLimit int           // recent messages scanned for a trigger
	DueBatch     int           // max users fetched per dispatch
	StoreTimeout time.Duration // deadline for each store call; 0 disables
}

// DispatchReport summarizes one DispatchDue call.
type DispatchReport struct {
	Selected int // users returned by the due query
	Sent     int
	Skipped  int // finished or no longer due after the re-check
	Failed   int // transient send/store errors, retried next tick
	Faults   int // consistency faults (missing schedule)
}

// orphanScanLimit caps how many orphans CheckConsistency reports.
const orphanScanLimit = 1000

// outcome of a single user's dispatch attempt
type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFault
)

// Engine owns the funnel state machine. All reads and writes for one user
// happen under that user's lock, so an inbound finish and a dispatch for
// the same user never interleave.
type Engine struct {
	repo    store.Repo
	msg     Messenger
	trigger *domain.Trigger
	cfg     Config
	log     *zap.Logger
	locks   *userLocks
}

// New creates an Engine.
func New(repo store.Repo, msg Messenger, trigger *domain.Trigger, cfg Config, log *zap.Logger) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.DueBatch <= 0 {
		cfg.DueBatch = 100
	}
	return &Engine{
		repo:    repo,
		msg:     msg,
		trigger: trigger,
		cfg:     cfg,
		log:     log,
		locks:   newUserLocks(),
	}
}

// storeCtx bounds a single store call.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

// OnInboundMessage registers unseen users and finishes the funnel when the
// message or the user's recent history contains a completion keyword.
func (e *Engine) OnInboundMessage(ctx context.Context, userID int64, text string, receivedAt time.Time) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	receivedAt = receivedAt.UTC()
	u, err := e.ensureUser(ctx, userID, receivedAt)
	if err != nil {
		return err
	}

	if u.Finished() {
		e.msg.ForgetHistory(userID)
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if !e.trigger.Match(text) {
		history, err := e.msg.RecentHistory(ctx, userID, e.cfg.HistoryLimit)
		if err != nil {
			return fmt.Errorf("recent history: %w", err)
		}
		if !e.trigger.MatchAny(history) {
			return nil
		}
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	changed, err := e.repo.SetStatus(sctx, userID, domain.StatusFinished, receivedAt)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	e.msg.ForgetHistory(userID)
	if changed {
		e.log.Info("funnel finished by trigger", zap.Int64("user_id", userID))
	}
	return nil
}

// ensureUser returns the stored user, creating it with its schedule on
// first contact.
func (e *Engine) ensureUser(ctx context.Context, userID int64, at time.Time) (*domain.User, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	u, err := e.repo.GetUser(sctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u = domain.NewUser(userID, at)
	created, err := e.repo.CreateUserWithSchedule(sctx, u, domain.NewSchedule(userID, at, e.cfg.Offsets))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if !created {
		// another writer got there first
		u, err = e.repo.GetUser(sctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		return u, nil
	}

	e.log.Info("funnel user created", zap.Int64("user_id", userID), zap.Time("created_at", at))
	return u, nil
}

// DispatchDue sends at most one due step to every alive user returned by
// the due query. Per-user failures are logged and do not stop the batch;
// only a failing due query is returned as an error.
func (e *Engine) DispatchDue(ctx context.Context, now time.Time) (DispatchReport, error) {
	now = now.UTC()
	var report DispatchReport

	sctx, cancel := e.storeCtx(ctx)
	entries, err := e.repo.ListDue(sctx, now, e.cfg.DueBatch)
	cancel()
	if err != nil {
		return report, fmt.Errorf("list due: %w", err)
	}
	report.Selected = len(entries)

	for _, entry := range entries {
		id := entry.User.ID
		res, err := e.dispatchUser(ctx, id, now)
		switch {
		case err != nil:
			e.log.Error("dispatch failed", zap.Error(err), zap.Int64("user_id", id))
			report.Failed++
			e.markAttempted(ctx, id, now)
		case res == outcomeSent:
			report.Sent++
		case res == outcomeFault:
			report.Faults++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// markAttempted moves a failed user behind the others in the due order.
func (e *Engine) markAttempted(ctx context.Context, userID int64, now time.Time) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.repo.MarkAttempted(sctx, userID, now); err != nil {
		e.log.Warn("mark attempted failed", zap.Error(err), zap.Int64("user_id", userID))
	}
}

// CheckConsistency logs every alive user that has no schedule and returns
// how many were found. Such users are never selected for dispatch.
func (e *Engine) CheckConsistency(ctx context.Context) (int, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	ids, err := e.repo.ListOrphans(sctx, orphanScanLimit)
	if err != nil {
		return 0, fmt.Errorf("list orphans: %w", err)
	}
	for _, id := range ids {
		e.log.Error("consistency fault: user has no schedule", zap.Int64("user_id", id))
	}
	return len(ids), nil
}

// dispatchUser re-reads the user under its lock, then sends and marks the
// first due step.
func (e *Engine) dispatchUser(ctx context.Context, userID int64, now time.Time) (outcome, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	sctx, cancel := e.storeCtx(ctx)
	u, err := e.repo.GetUser(sctx, userID)
	if err != nil {
		cancel()
		return outcomeSkipped, fmt.Errorf("get user: %w", err)
	}
	if u.Finished() {
		cancel()
		return outcomeSkipped, nil
	}
	s, err := e.repo.GetSchedule(sctx, userID)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		e.log.Error("consistency fault: user has no schedule", zap.Int64("user_id", userID))
		return outcomeFault, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("get schedule: %w", err)
	}

	step, ok := s.NextDue(now)
	if !ok {
		return outcomeSkipped, nil
	}

	if err := e.msg.SendMessage(ctx, userID, e.cfg.Texts[step-1]); err != nil {
		return outcomeSkipped, fmt.Errorf("send step %d: %w", step, err)
	}

	sctx, cancel = e.storeCtx(ctx)
	defer cancel()
	marked, err := e.repo.MarkStepSent(sctx, userID, step, now)
	if err != nil {
		// the message went out but the flag did not land; it will be resent
		return outcomeSkipped, fmt.Errorf("mark step %d sent: %w", step, err)
	}
	if !marked {
		e.log.Warn("step was already marked sent", zap.Int64("user_id", userID), zap.Int("step", int(step)))
	}

	e.log.Info("funnel message sent", zap.Int64("user_id", userID), zap.Int("step", int(step)))
	return outcomeSent, nil
}
