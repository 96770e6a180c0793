package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ykvlv/funnel-bot/internal/domain"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"` // sqlite|postgres
	DBDSN    string `envconfig:"DB_DSN" default:"./data/funnel.db"`

	Offset1      time.Duration `envconfig:"OFFSET_1" default:"6m"`  // before the first message
	Offset2      time.Duration `envconfig:"OFFSET_2" default:"39m"` // between 1st and 2nd
	Offset3      time.Duration `envconfig:"OFFSET_3" default:"26h"` // between 2nd and 3rd
	MessageText1 string        `envconfig:"MESSAGE_TEXT_1" default:"Текст 1"`
	MessageText2 string        `envconfig:"MESSAGE_TEXT_2" default:"Текст 2"`
	MessageText3 string        `envconfig:"MESSAGE_TEXT_3" default:"Текст 3"`
	Keywords     []string      `envconfig:"COMPLETION_KEYWORDS" default:"прекрасно,ожидать"`

	TickPeriod   time.Duration `envconfig:"TICK_PERIOD" default:"10s"`
	HistoryLimit int           `envconfig:"HISTORY_LIMIT" default:"10"`
	DueBatch     int           `envconfig:"DUE_BATCH" default:"100"`
	SendTimeout  time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	LogLevel  string        `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	LogFile   string        `envconfig:"LOG_FILE"`                 // optional, rotated daily
	LogMaxAge time.Duration `envconfig:"LOG_MAX_AGE" default:"168h"`
	HTTPAddr  string        `envconfig:"HTTP_ADDR" default:":8080"` // healthz, stats
}

// Load reads an optional .env file and then environment variables into Config.
func Load() (Config, error) {
	// best-effort: a missing .env is fine
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the funnel cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, errors.New("BOT_TOKEN is empty"))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		errs = append(errs, errors.New("DB_DSN is empty"))
	}
	if err := c.Offsets().Validate(); err != nil {
		errs = append(errs, err)
	}
	for i, text := range c.Texts() {
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("MESSAGE_TEXT_%d is empty", i+1))
		}
	}
	if len(domain.NewTrigger(c.Keywords).Keywords()) == 0 {
		errs = append(errs, errors.New("COMPLETION_KEYWORDS has no keywords"))
	}
	if c.TickPeriod <= 0 {
		errs = append(errs, errors.New("TICK_PERIOD must be > 0"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be > 0"))
	}
	if c.DueBatch <= 0 {
		errs = append(errs, errors.New("DUE_BATCH must be > 0"))
	}
	if c.SendTimeout <= 0 || c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT and STORE_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

// Offsets returns the funnel delays.
func (c Config) Offsets() domain.Offsets {
	return domain.Offsets{c.Offset1, c.Offset2, c.Offset3}
}

// Texts returns the per-step message texts.
func (c Config) Texts() [domain.StepCount]string {
	return [domain.StepCount]string{c.MessageText1, c.MessageText2, c.MessageText3}
}
