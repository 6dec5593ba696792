// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all settings for the bot.
type Config struct {
	VK       VK       `envPrefix:"VK_"`
	Bot      Bot      `envPrefix:"VISIONARY_"`
	Chromium Chromium `envPrefix:"CHROMIUM_"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type VK struct {
	Token      string `env:"TOKEN"`
	APIURL     string `env:"API_URL" envDefault:"https://api.vk.com/method/"`
	APIVersion string `env:"API_VERSION" envDefault:"5.131"`
}

type Bot struct {
	ChatName      string `env:"CHAT_NAME" envDefault:"TEST_DLG"`
	ReplyChatName string `env:"REPLY_CHAT_NAME"`

	Tasks     int `env:"TASKS" envDefault:"5"`
	QueueSize int `env:"QUEUE_SIZE" envDefault:"0"`
	MaxTabs   int `env:"MAX_TABS" envDefault:"5"`

	ImageDir      string `env:"IMAGE_DIR" envDefault:"./img"`
	CacheSize     int    `env:"CACHE_SIZE" envDefault:"5000"`
	PruneSchedule string `env:"PRUNE_SCHEDULE" envDefault:"*/15 * * * *"`

	NavTimeout        time.Duration `env:"NAV_TIMEOUT" envDefault:"20s"`
	TabTimeout        time.Duration `env:"TAB_TIMEOUT" envDefault:"3s"`
	RetryDelay        time.Duration `env:"RETRY_DELAY" envDefault:"500ms"`
	MaxRefreshHops    int           `env:"MAX_REFRESH_HOPS" envDefault:"5"`
	FailureThreshold  int           `env:"FAILURE_THRESHOLD" envDefault:"4"`
	AllowedExtensions []string      `env:"ALLOWED_EXTENSIONS" envDefault:".html,.php" envSeparator:","`

	RateLimit    int           `env:"RATE_LIMIT" envDefault:"3"`
	RateInterval time.Duration `env:"RATE_INTERVAL" envDefault:"1s"`
	RatePoll     time.Duration `env:"RATE_POLL" envDefault:"50ms"`
	LongPollWait int           `env:"LONGPOLL_WAIT" envDefault:"25"`

	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT" envDefault:"30s"`
	HistoryDir   string        `env:"HISTORY_DIR" envDefault:"./history"`
	NotifyURL    string        `env:"NOTIFY_URL"`

	AdminAddr             string   `env:"ADMIN_ADDR" envDefault:"127.0.0.1:8190"`
	AdminPortCandidates   []string `env:"ADMIN_PORT_CANDIDATES" envDefault:"127.0.0.1:8191,127.0.0.1:8192" envSeparator:","`
	AdminPortAutoFallback bool     `env:"ADMIN_PORT_AUTO_FALLBACK" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE" envDefault:"logs/visionary.log"`
}

type Chromium struct {
	Path       string `env:"PATH"`
	CDPAddress string `env:"CDP_ADDRESS" envDefault:"127.0.0.1"`
	CDPPort    int    `env:"CDP_PORT" envDefault:"9222"`
	ProfileDir string `env:"PROFILE_DIR" envDefault:"./chrome_profile"`
	WindowSize string `env:"WINDOW_SIZE" envDefault:"1280,1024"`
	Headless   bool   `env:"HEADLESS" envDefault:"true"`
	NoSandbox  bool   `env:"NO_SANDBOX" envDefault:"false"`
}

// Load reads the optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Bot.LogLevel = strings.ToLower(cfg.Bot.LogLevel)
	return cfg, nil
}

// ReplyChat returns the reply chat name, defaulting to the listen chat.
func (c *Config) ReplyChat() string {
	if c.Bot.ReplyChatName != "" {
		return c.Bot.ReplyChatName
	}
	return c.Bot.ChatName
}

// QueueSize returns the work queue size, defaulting to twice the worker count.
func (c *Config) QueueSize() int {
	if c.Bot.QueueSize > 0 {
		return c.Bot.QueueSize
	}
	return 2 * c.Bot.Tasks
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.VK.Token) == "" {
		errs = append(errs, errors.New("VK_TOKEN is required"))
	}
	if c.Bot.ChatName == "" {
		errs = append(errs, errors.New("VISIONARY_CHAT_NAME is required"))
	}
	positive := map[string]int{
		"VISIONARY_TASKS":             c.Bot.Tasks,
		"VISIONARY_MAX_TABS":          c.Bot.MaxTabs,
		"VISIONARY_RATE_LIMIT":        c.Bot.RateLimit,
		"VISIONARY_CACHE_SIZE":        c.Bot.CacheSize,
		"VISIONARY_MAX_REFRESH_HOPS":  c.Bot.MaxRefreshHops,
		"VISIONARY_FAILURE_THRESHOLD": c.Bot.FailureThreshold,
		"VISIONARY_LONGPOLL_WAIT":     c.Bot.LongPollWait,
	}
	for name, v := range positive {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, v))
		}
	}
	durations := map[string]time.Duration{
		"VISIONARY_NAV_TIMEOUT":   c.Bot.NavTimeout,
		"VISIONARY_TAB_TIMEOUT":   c.Bot.TabTimeout,
		"VISIONARY_RATE_INTERVAL": c.Bot.RateInterval,
		"VISIONARY_RATE_POLL":     c.Bot.RatePoll,
		"VISIONARY_DRAIN_TIMEOUT": c.Bot.DrainTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Bot.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("VISIONARY_RETRY_DELAY must not be negative, got %s", c.Bot.RetryDelay))
	}
	if !gronx.New().IsValid(c.Bot.PruneSchedule) {
		errs = append(errs, fmt.Errorf("VISIONARY_PRUNE_SCHEDULE %q is not a valid cron expression", c.Bot.PruneSchedule))
	}
	switch c.Bot.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("VISIONARY_LOG_LEVEL %q is not one of debug, info, warn, error", c.Bot.LogLevel))
	}
	return errors.Join(errs...)
}

// CDPURL returns the DevTools HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.Chromium.CDPAddress, c.Chromium.CDPPort)
}
