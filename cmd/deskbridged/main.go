package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apiPkg "github.com/deskbridge-io/deskbridge/internal/api"
	"github.com/deskbridge-io/deskbridge/internal/bot"
	"github.com/deskbridge-io/deskbridge/internal/config"
	"github.com/deskbridge-io/deskbridge/internal/connector"
	slackconn "github.com/deskbridge-io/deskbridge/internal/connector/slack"
	"github.com/deskbridge-io/deskbridge/internal/connector/telegram"
	"github.com/deskbridge-io/deskbridge/internal/dialogue"
	"github.com/deskbridge-io/deskbridge/internal/logbuf"
	"github.com/deskbridge-io/deskbridge/internal/poller"
	"github.com/deskbridge-io/deskbridge/internal/registry"
	"github.com/deskbridge-io/deskbridge/internal/store"
	"github.com/deskbridge-io/deskbridge/internal/store/sqlite"
	"github.com/deskbridge-io/deskbridge/internal/store/supabase"
	"github.com/deskbridge-io/deskbridge/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("deskbridged starting", "tracker", cfg.Jira.BaseURL, "project", cfg.Jira.ProjectKey)

	// 1. Open the user/subscription store
	var st store.Store
	switch cfg.Store.Backend {
	case "supabase":
		st = supabase.New(supabase.Config{
			URL:      cfg.Store.Supabase.URL,
			AnonKey:  cfg.Store.Supabase.AnonKey,
			Email:    cfg.Store.Supabase.Email,
			Password: cfg.Store.Supabase.Password,
			TokenRPC: cfg.Store.Supabase.TokenRPC,
		})
	default:
		st, err = sqlite.New(cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open store", "path", cfg.Store.Path, "error", err)
			os.Exit(1)
		}
	}
	defer st.Close()

	reg := registry.New(st, logger.With("component", "registry"))
	trk := tracker.New(cfg.Jira.BaseURL, cfg.Jira.ProjectKey)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Build the dialogue engine and event router
	categories := make([]dialogue.Category, len(cfg.Dialogue.Categories))
	for i, c := range cfg.Dialogue.Categories {
		categories[i] = dialogue.Category{
			Label:               c.Label,
			IssueType:           c.IssueType,
			RequiresDescription: c.RequiresDescription,
		}
	}

	sessions := dialogue.NewSessions()
	engine := &dialogue.Engine{
		Sessions: sessions,
		Submitter: &dialogue.TrackerSubmitter{
			Tokens:  st,
			Tracker: trk,
			Logger:  logger.With("component", "submitter"),
		},
		Registrar:  st,
		Categories: categories,
		Priorities: cfg.Dialogue.Priorities,
		Logger:     logger.With("component", "dialogue"),
	}

	router := &bot.Bot{
		Engine:     engine,
		Sessions:   sessions,
		Registry:   reg,
		Store:      st,
		Tracker:    trk,
		Logger:     logger.With("component", "bot"),
		ProjectKey: cfg.Jira.ProjectKey,
		PageSize:   cfg.Dialogue.PageSize,
	}
	// Status views and comments route back through the bot.
	engine.Tickets = router

	// 3. Start connectors
	notifier := &fanoutNotifier{logger: logger.With("component", "notifier")}

	if cfg.Connectors.Telegram != nil {
		tgConn, err := telegram.New(
			telegram.Config{
				Token:     cfg.Connectors.Telegram.Token,
				AllowFrom: cfg.Connectors.Telegram.AllowFrom,
			},
			router.HandleEvent,
			logger.With("connector", "telegram"),
		)
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		router.RegisterSender(tgConn.Name(), tgConn)
		notifier.add(tgConn)
		go safeGo(logger, "telegram", func() { tgConn.Start(ctx) })
		logger.Info("telegram connector started")
	}

	if cfg.Connectors.Slack != nil {
		slConn, err := slackconn.New(
			slackconn.Config{
				BotToken: cfg.Connectors.Slack.BotToken,
				AppToken: cfg.Connectors.Slack.AppToken,
				Channels: cfg.Connectors.Slack.Channels,
			},
			router.HandleEvent,
			logger.With("connector", "slack"),
		)
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		router.RegisterSender(slConn.Name(), slConn)
		notifier.add(slConn)
		go safeGo(logger, "slack", func() { slConn.Start(ctx) })
		logger.Info("slack connector started")
	}

	// 4. Start the status poller
	pol := &poller.Poller{
		Registry: reg,
		Tokens:   st,
		Tracker:  trk,
		Notifier: notifier,
		Terminal: cfg.Poller.Terminal,
		Logger:   logger.With("component", "poller"),
	}
	sched := poller.NewScheduler(logger.With("component", "scheduler"))
	if err := sched.Add(cfg.Poller.Schedule, func() { pol.Sweep(ctx) }); err != nil {
		logger.Error("invalid poll schedule", "schedule", cfg.Poller.Schedule, "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })
	logger.Info("status poller started", "schedule", cfg.Poller.Schedule)

	// 5. Start API server
	apiSvc := &opsServiceAdapter{reg: reg, pol: pol, sessions: sessions}
	apiSrv := apiPkg.NewServer(apiSvc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("deskbridged stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// fanoutNotifier delivers poller notifications through the first connector
// that accepts them. With a single connector configured this is just that
// connector; with several, delivery stops at the first success.
type fanoutNotifier struct {
	senders []connector.Connector
	logger  *slog.Logger
}

func (n *fanoutNotifier) add(c connector.Connector) {
	n.senders = append(n.senders, c)
}

func (n *fanoutNotifier) Send(ctx context.Context, msg connector.OutboundMessage) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.Warn("notification delivery failed", "connector", s.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		return nil
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return errors.New("no connectors registered")
}

// opsServiceAdapter implements api.Service over the registry and poller.
type opsServiceAdapter struct {
	reg      *registry.Registry
	pol      *poller.Poller
	sessions *dialogue.Sessions
}

func (o *opsServiceAdapter) Subscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	if userID != "" {
		return o.reg.ListUser(ctx, userID)
	}
	return o.reg.ListAll(ctx)
}

func (o *opsServiceAdapter) PollStats() poller.Stats {
	return o.pol.Stats()
}

func (o *opsServiceAdapter) ActiveSessions() int {
	return o.sessions.Len()
}
