package config

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func parseEnv(t *testing.T, vars map[string]string) *Config {
	t.Helper()
	cfg, err := parse(env.Options{Environment: vars})
	if err != nil {
		t.Fatalf("parse() error = %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parseEnv(t, map[string]string{"VK_TOKEN": "tok"})

	if cfg.Bot.ChatName != "TEST_DLG" || cfg.ReplyChat() != "TEST_DLG" {
		t.Fatalf("chat names = %q/%q; want TEST_DLG", cfg.Bot.ChatName, cfg.ReplyChat())
	}
	if cfg.Bot.Tasks != 5 || cfg.QueueSize() != 10 || cfg.Bot.MaxTabs != 5 {
		t.Fatalf("tasks/queue/tabs = %d/%d/%d; want 5/10/5", cfg.Bot.Tasks, cfg.QueueSize(), cfg.Bot.MaxTabs)
	}
	if cfg.Bot.NavTimeout != 20*time.Second || cfg.Bot.RateInterval != time.Second {
		t.Fatalf("durations = %s/%s", cfg.Bot.NavTimeout, cfg.Bot.RateInterval)
	}
	if want := []string{".html", ".php"}; !slices.Equal(cfg.Bot.AllowedExtensions, want) {
		t.Fatalf("AllowedExtensions = %v; want %v", cfg.Bot.AllowedExtensions, want)
	}
	if got, want := cfg.CDPURL(), "http://127.0.0.1:9222"; got != want {
		t.Fatalf("CDPURL() = %q; want %q", got, want)
	}
	if !cfg.Chromium.Headless || !cfg.Bot.AdminPortAutoFallback {
		t.Fatalf("headless/fallback defaults should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestOverrides(t *testing.T) {
	cfg := parseEnv(t, map[string]string{
		"VK_TOKEN":                  "tok",
		"VISIONARY_REPLY_CHAT_NAME": "REPLIES",
		"VISIONARY_TASKS":           "3",
		"VISIONARY_QUEUE_SIZE":      "1",
		"VISIONARY_LOG_LEVEL":       "DEBUG",
		"CHROMIUM_CDP_PORT":         "9333",
		"CHROMIUM_NO_SANDBOX":       "true",
	})

	if cfg.ReplyChat() != "REPLIES" || cfg.QueueSize() != 1 || cfg.Bot.Tasks != 3 {
		t.Fatalf("cfg.Bot = %+v", cfg.Bot)
	}
	if cfg.Bot.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q; want debug", cfg.Bot.LogLevel)
	}
	if cfg.Chromium.CDPPort != 9333 || !cfg.Chromium.NoSandbox {
		t.Fatalf("cfg.Chromium = %+v", cfg.Chromium)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := parseEnv(t, map[string]string{
		"VISIONARY_TASKS":          "0",
		"VISIONARY_NAV_TIMEOUT":    "0s",
		"VISIONARY_PRUNE_SCHEDULE": "every day",
	})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil; want error")
	}
	for _, want := range []string{"VK_TOKEN", "VISIONARY_TASKS", "VISIONARY_NAV_TIMEOUT", "VISIONARY_PRUNE_SCHEDULE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error = %v; want mention of %s", err, want)
		}
	}
}

func TestParseRejectsMalformedValues(t *testing.T) {
	if _, err := parse(env.Options{Environment: map[string]string{"VISIONARY_TASKS": "many"}}); err == nil {
		t.Fatal("parse() = nil; want error")
	}
}
