package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/visionary/internal/api"
	"github.com/dgnsrekt/visionary/internal/browser"
	"github.com/dgnsrekt/visionary/internal/cdp"
	"github.com/dgnsrekt/visionary/internal/chat"
	"github.com/dgnsrekt/visionary/internal/config"
	"github.com/dgnsrekt/visionary/internal/controller"
	"github.com/dgnsrekt/visionary/internal/events"
	"github.com/dgnsrekt/visionary/internal/netutil"
	"github.com/dgnsrekt/visionary/internal/notify"
	"github.com/dgnsrekt/visionary/internal/pipeline"
	"github.com/dgnsrekt/visionary/internal/ratelimit"
	"github.com/dgnsrekt/visionary/internal/resolver"
	"github.com/dgnsrekt/visionary/internal/snapshot"
	"github.com/dgnsrekt/visionary/internal/storage"
	"github.com/dgnsrekt/visionary/internal/telemetry"
	"github.com/dgnsrekt/visionary/internal/vkapi"
)

const shutdownTimeout = 15 * time.Second

func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("visionary starting",
		"version", version,
		"chat", cfg.Bot.ChatName,
		"reply_chat", cfg.ReplyChat(),
		"tasks", cfg.Bot.Tasks,
		"max_tabs", cfg.Bot.MaxTabs,
		"image_dir", cfg.Bot.ImageDir,
		"cdp_url", cfg.CDPURL(),
	)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("visionary", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing unavailable", "error", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	limiter := ratelimit.New(cfg.Bot.RateLimit, cfg.Bot.RateInterval, cfg.Bot.RatePoll)
	vk := vkapi.New(vkapi.Config{
		BaseURL:      cfg.VK.APIURL,
		Version:      cfg.VK.APIVersion,
		Token:        cfg.VK.Token,
		LongPollWait: cfg.Bot.LongPollWait,
	}, limiter)
	defer vk.Close()

	source := chat.NewSource(vk, cfg.Bot.ChatName, cfg.ReplyChat())
	binding, err := source.ResolveNames(ctx)
	if err != nil {
		return fmt.Errorf("bind chat: %w", err)
	}

	store, err := snapshot.NewStore(cfg.Bot.ImageDir)
	if err != nil {
		return err
	}
	retention, err := snapshot.NewRetention(store, cfg.Bot.PruneSchedule, cfg.Bot.CacheSize)
	if err != nil {
		return err
	}
	go func() {
		if err := retention.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("snapshot retention stopped", "error", err)
		}
	}()

	proc := browser.NewLauncher(browser.Config{
		BinaryPath: cfg.Chromium.Path,
		CDPAddress: cfg.Chromium.CDPAddress,
		CDPPort:    cfg.Chromium.CDPPort,
		ProfileDir: cfg.Chromium.ProfileDir,
		WindowSize: cfg.Chromium.WindowSize,
		Headless:   cfg.Chromium.Headless,
		NoSandbox:  cfg.Chromium.NoSandbox,
	})
	pool := resolver.NewPool(resolver.Config{
		MaxTabs:          cfg.Bot.MaxTabs,
		NavTimeout:       cfg.Bot.NavTimeout,
		TabTimeout:       cfg.Bot.TabTimeout,
		RetryDelay:       cfg.Bot.RetryDelay,
		MaxRefreshHops:   cfg.Bot.MaxRefreshHops,
		FailureThreshold: cfg.Bot.FailureThreshold,
		BrowsableExts:    cfg.Bot.AllowedExtensions,
	}, cdp.NewLauncher(proc), store)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pool.Close(closeCtx); err != nil {
			slog.Error("browser pool close failed", "error", err)
		}
	}()
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	broker := events.NewBroker()
	opts := []pipeline.Option{
		pipeline.WithNotifier(notify.New(cfg.Bot.NotifyURL, nil)),
		pipeline.WithEvents(broker),
	}
	if cfg.Bot.HistoryDir != "" {
		history := storage.NewHistory(cfg.Bot.HistoryDir, 256, 50)
		defer func() {
			if err := history.Close(); err != nil {
				slog.Warn("history close failed", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithHistory(history))
	}
	pipe := pipeline.New(pipeline.Config{
		Workers:      cfg.Bot.Tasks,
		QueueSize:    cfg.QueueSize(),
		DrainTimeout: cfg.Bot.DrainTimeout,
		ReplyPeerID:  binding.ReplyPeerID,
	}, source, pool, vk, opts...)

	if cfg.Bot.AdminAddr != "" {
		srv, err := serveAdmin(cfg, controller.NewService(pool, pipe, store), broker)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("admin server shutdown failed", "error", err)
			}
		}()
	}

	slog.Info("listening to chat", "listen_peer", binding.ListenPeerID, "reply_peer", binding.ReplyPeerID)
	err = pipe.Run(ctx)
	if err != nil {
		slog.Error("all workers stopped", "error", err)
		return err
	}
	slog.Info("visionary stopped")
	return nil
}

func serveAdmin(cfg *config.Config, svc *controller.Service, broker *events.Broker) (*http.Server, error) {
	ln, err := netutil.Listen(cfg.Bot.AdminAddr, cfg.Bot.AdminPortCandidates, cfg.Bot.AdminPortAutoFallback)
	if err != nil {
		return nil, fmt.Errorf("admin listener: %w", err)
	}
	srv := &http.Server{Handler: api.NewServer(svc, version, api.WithEvents(broker)), ReadHeaderTimeout: 10 * time.Second}
	addr := ln.Addr().String()
	go func() {
		slog.Info("admin api listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server failed", "error", err)
		}
	}()
	return srv, nil
}
