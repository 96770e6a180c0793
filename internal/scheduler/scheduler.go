package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/ykvlv/funnel-bot/internal/funnel"
)

// Dispatcher is what the scheduler drives on every tick.
// funnel.Engine implements it.
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (funnel.DispatchReport, error)
}

// Scheduler periodically dispatches due funnel messages.
type Scheduler struct {
	d        Dispatcher
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// New creates a new Scheduler ticking every interval.
func New(d Dispatcher, log *zap.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		d:        d,
		log:      log,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the loop and blocks until ctx is canceled. A tick in flight
// at cancellation runs to completion before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	// ticks must not be aborted halfway by the caller's cancellation
	tickCtx := context.WithoutCancel(ctx)

	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	if _, err := cron.Every(s.interval).Do(func() { s.tick(tickCtx) }); err != nil {
		return err
	}

	s.log.Info("scheduler starting", zap.Duration("interval", s.interval))
	cron.StartAsync()

	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	cron.Stop()
	s.running.Wait()

	s.log.Info("scheduler stopped")
	return nil
}

// tick performs one dispatch cycle.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	log := s.log.With(zap.String("tick", ksuid.New().String()))
	start := time.Now()

	report, err := s.d.DispatchDue(ctx, s.now())
	if err != nil {
		log.Error("dispatch due failed", zap.Error(err))
		return
	}
	if report.Selected == 0 {
		return
	}
	log.Info("tick done",
		zap.Int("selected", report.Selected),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("faults", report.Faults),
		zap.Duration("took", time.Since(start)),
	)
}
