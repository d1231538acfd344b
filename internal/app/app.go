// Package app wires the stores, the Google and Telegram adapters and the services
// into a runnable bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/bootstrap"
	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/logger"
	coretelegram "github.com/m3rciful/formbot/core/telegram"
	"github.com/m3rciful/formbot/core/telegram/commands"
	tgrouter "github.com/m3rciful/formbot/core/telegram/router"
	tgsender "github.com/m3rciful/formbot/core/telegram/sender"
	"github.com/m3rciful/formbot/internal/binding"
	"github.com/m3rciful/formbot/internal/conversation"
	"github.com/m3rciful/formbot/internal/dispatch"
	"github.com/m3rciful/formbot/internal/googleforms"
	"github.com/m3rciful/formbot/internal/inbound"
	"github.com/m3rciful/formbot/internal/ingest"
	"github.com/m3rciful/formbot/internal/property"
	"github.com/m3rciful/formbot/internal/reconcile"
	"github.com/m3rciful/formbot/internal/session"
	"github.com/m3rciful/formbot/internal/validate"
)

// Google is everything the app needs from the Google adapter.
type Google interface {
	validate.FormResolver
	dispatch.FileSharer
	ingest.Source
	Watches() *googleforms.Watches
}

// Infra carries the externally constructed pieces.
type Infra struct {
	DB     *sqlx.DB
	Bot    *tele.Bot
	Google Google
	// Subscriptions overrides Google.Watches(); used by tests.
	Subscriptions reconcile.Subscriptions
}

// App is the wired application.
type App struct {
	cfg *coreconfig.Config
	db  *sqlx.DB
	bot *tele.Bot

	Props      property.Store
	Bindings   *binding.Repository
	Sessions   *session.Store
	Messenger  *coretelegram.Messenger
	Machine    *conversation.Machine
	Reconciler *reconcile.Reconciler
	Dispatcher *dispatch.Dispatcher
	Syncer     *ingest.Syncer
	Poller     *ingest.Poller
	Server     *ingest.Server
	Registry   *coretelegram.Registry
	Router     *inbound.Router
}

// New bootstraps the database, connects to Telegram and Google and wires the app.
func New(ctx context.Context, cfg *coreconfig.Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	bot, err := coretelegram.NewBot(cfg, false)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	google, err := googleforms.New(ctx, cfg.Google)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	return Build(cfg, Infra{DB: res.DB, Bot: bot, Google: google})
}

// Build wires the app around infra. A nil DB selects the in-memory property store.
func Build(cfg *coreconfig.Config, infra Infra) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	if infra.Bot == nil || infra.Google == nil {
		return nil, fmt.Errorf("app: bot and google client are required")
	}

	a := &App{cfg: cfg, db: infra.DB, bot: infra.Bot}
	if infra.DB != nil {
		a.Props = property.NewSQL(infra.DB)
	} else {
		a.Props = property.NewMemory()
	}
	a.Bindings = binding.NewRepository(a.Props)
	a.Sessions = session.NewStore(a.Props)

	sender := tgsender.New(tgsender.Options{
		MaxRetries:   cfg.Sender.MaxRetries,
		RetryBackoff: cfg.Sender.RetryBackoff,
		MaxDuration:  cfg.Sender.MaxDuration,
	})
	a.Messenger = coretelegram.NewMessenger(infra.Bot, sender)

	// without a topic no watch can be created; responses arrive by polling only
	subs := infra.Subscriptions
	if subs == nil && strings.TrimSpace(cfg.Google.PubSubTopic) != "" {
		subs = infra.Google.Watches()
	}
	a.Reconciler = reconcile.New(a.Bindings, a.Props, infra.Google, subs, a.Messenger, reconcile.Options{
		Policy:      reconcile.Policy(cfg.Reconcile.InvalidPolicy),
		RenewBefore: cfg.Reconcile.RenewBefore,
	})
	a.Machine = conversation.New(conversation.Deps{
		Sessions:   a.Sessions,
		Bindings:   a.Bindings,
		Chats:      validate.ChatValidator{Members: a.Messenger},
		Forms:      validate.FormValidator{Forms: infra.Google},
		Messenger:  a.Messenger,
		Reconciler: a.Reconciler,
	})
	a.Router = inbound.NewRouter(a.Machine)

	a.Dispatcher = dispatch.New(a.Bindings, infra.Google, a.Messenger)
	metrics := ingest.NewMetrics()
	a.Syncer = ingest.NewSyncer(infra.Google, a.Dispatcher, a.Props, cfg.Ingest.InitialLookback, metrics)
	a.Poller = ingest.NewPoller(a.Bindings, a.Syncer, a.Reconciler, cfg.Ingest.PollInterval, cfg.Reconcile.Interval)
	if cfg.Ingest.Listen != "" {
		a.Server = ingest.NewServer(a.Syncer, cfg.Ingest.PushToken, metrics)
	}

	a.Registry = coretelegram.NewRegistry()
	for _, c := range conversation.Commands() {
		a.Registry.RegisterCommand("/"+c.Name, commands.Command{Description: c.Description, Aliases: c.Aliases})
	}
	return a, nil
}

// TelegramRunOptions assembles the bot runtime: middleware, the text route and the
// ingest services.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	services := []coretelegram.Service{{Name: "poller", Run: a.Poller.Run}}
	if a.Server != nil {
		addr := a.cfg.Ingest.Listen
		services = append(services, coretelegram.Service{
			Name: "ingest.http",
			Run:  func(ctx context.Context) error { return a.Server.Run(ctx, addr) },
		})
	}
	return coretelegram.RunOptions{
		Config:      a.cfg,
		Bot:         a.bot,
		Registry:    a.Registry,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      tgrouter.TextRoutes(a.Router, a.Registry),
		Services:    services,
	}, nil
}

// Reconcile runs one reconciliation pass.
func (a *App) Reconcile(ctx context.Context) error {
	return a.Reconciler.Reconcile(ctx)
}

// Close releases the database handle.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	if err := a.db.Close(); err != nil {
		logger.Warn(logger.Background(), "app", "db.close", slog.String("err", err.Error()))
		return err
	}
	return nil
}
