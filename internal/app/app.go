package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/funnel-bot/internal/config"
	"github.com/ykvlv/funnel-bot/internal/domain"
	"github.com/ykvlv/funnel-bot/internal/funnel"
	"github.com/ykvlv/funnel-bot/internal/scheduler"
	"github.com/ykvlv/funnel-bot/internal/store"
	"github.com/ykvlv/funnel-bot/internal/telegram"
)

const pollTimeoutSec = 30

type App struct {
	cfg    config.Config
	log    *zap.Logger
	poller *tgbotapi.BotAPI // long polling, default HTTP client
	sender *tgbotapi.BotAPI // sends, bounded by SEND_TIMEOUT
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	poller, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	poller.Debug = false

	sender, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: cfg.SendTimeout})
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, log: log, poller: poller, sender: sender}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting funnel-bot",
		zap.String("bot", a.poller.Self.UserName),
		zap.String("db", a.cfg.DBDriver),
		zap.String("http", a.cfg.HTTPAddr),
		zap.Duration("tick", a.cfg.TickPeriod),
	)

	repo, err := store.Open(ctx, a.cfg.DBDriver, a.cfg.DBDSN)
	if err != nil {
		a.log.Error("open store failed", zap.Error(err))
		return err
	}
	defer func() { _ = repo.Close() }()
	a.log.Info("store ready")

	history := telegram.NewHistory(a.cfg.HistoryLimit)
	engine := funnel.New(
		repo,
		telegram.NewClient(a.sender, history),
		domain.NewTrigger(a.cfg.Keywords),
		funnel.Config{
			Offsets:      a.cfg.Offsets(),
			Texts:        a.cfg.Texts(),
			HistoryLimit: a.cfg.HistoryLimit,
			DueBatch:     a.cfg.DueBatch,
			StoreTimeout: a.cfg.StoreTimeout,
		},
		a.log.Named("funnel"),
	)
	router := telegram.NewRouter(a.log.Named("telegram"), history, engine)

	if n, err := engine.CheckConsistency(ctx); err != nil {
		a.log.Warn("consistency check failed", zap.Error(err))
	} else if n > 0 {
		a.log.Warn("users without schedule found", zap.Int("count", n))
	}

	httpSrv := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      newHealthRouter(repo, a.log),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(engine, a.log.Named("scheduler"), a.cfg.TickPeriod)
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec
	updCh := a.poller.GetUpdatesChan(u)

	shutdown := func() {
		a.poller.StopReceivingUpdates()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shCtx); err != nil {
			a.log.Warn("http server shutdown error", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			// let the in-flight tick finish before the store goes away
			if err := <-schedDone; err != nil {
				a.log.Warn("scheduler exited with error", zap.Error(err))
			}
			shutdown()
			return nil

		case err := <-schedDone:
			// the scheduler only returns early when its job cannot be set up
			shutdown()
			return err

		case upd := <-updCh:
			router.HandleUpdate(ctx, upd)
		}
	}
}
