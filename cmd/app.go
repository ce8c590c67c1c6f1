package main

import (
	"context"
	"fmt"
	"log/slog"

	"storefront/internal/analytics"
	"storefront/internal/auth"
	"storefront/internal/catalog"
	"storefront/internal/changefeed"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/filestore"
	httpapi "storefront/internal/http"
	"storefront/internal/inventory"
	"storefront/internal/metrics"
	"storefront/internal/notify"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/session"
	"storefront/internal/telemetry"
)

// app owns the backends opened from the config.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	store   repository.Store
	feed    changefeed.Feed
	metrics *metrics.Metrics
	closers []func() error
}

// openApp connects the data backend and the change feed. Telemetry is only
// installed for long-running commands.
func openApp(ctx context.Context, cfg config.Config, log *slog.Logger, withTelemetry bool) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	if withTelemetry {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Env)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { return shutdown(context.Background()) })
	}

	switch cfg.Database.Driver {
	case "postgres":
		pg, err := repository.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			a.Close()
			return nil, err
		}
		a.store = pg
	default:
		log.Warn("using the in-memory store; data is lost on exit")
		a.store = repository.NewMemoryStore()
	}
	a.onClose(a.store.Close)

	switch cfg.Feed.Driver {
	case "redis":
		rf, err := changefeed.NewRedisFeed(changefeed.RedisConfig{URL: cfg.Feed.RedisURL, KeyPrefix: cfg.Feed.KeyPrefix}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.feed = rf
		a.onClose(rf.Close)
	default:
		b := changefeed.NewBroker()
		a.feed = b
		a.onClose(b.Close)
	}
	return a, nil
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

func (a *app) files(ctx context.Context) (filestore.Store, string, error) {
	fc := a.cfg.Files
	if fc.Driver == "gcs" {
		gs, err := filestore.NewGCSStore(ctx, fc.Bucket, fc.CredentialsFile)
		if err != nil {
			return nil, "", err
		}
		a.onClose(gs.Close)
		return gs, "", nil
	}
	return filestore.NewLocalStore(fc.Root, fc.BaseURL), fc.Root, nil
}

func (a *app) sender() notify.Sender {
	ec := a.cfg.Email
	var s notify.Sender = notify.NewLogSender(a.log)
	if ec.Driver == "smtp" {
		s = notify.NewSMTPSender(ec.SMTP)
	}
	return notify.NewObserved(notify.NewRateLimited(s, ec.PerSecond, ec.Burst), a.metrics.Email)
}

func (a *app) sessions() (session.KV, error) {
	sc := a.cfg.Session
	kv, err := session.OpenBadgerKV(session.BadgerConfig{Path: sc.Path, InMemory: sc.InMemory, TTL: sc.TTL, Logger: a.log})
	if err != nil {
		return nil, err
	}
	a.onClose(kv.Close)
	return kv, nil
}

// server wires every service behind the HTTP API and starts the catalog
// watcher.
func (a *app) server(ctx context.Context) (*httpapi.Server, error) {
	files, uploadsDir, err := a.files(ctx)
	if err != nil {
		return nil, err
	}
	kv, err := a.sessions()
	if err != nil {
		return nil, err
	}
	watcher := catalog.NewWatcher(a.store.Products(), a.feed, a.metrics, a.log)
	if err := watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("start catalog: %w", err)
	}
	a.onClose(func() error { watcher.Close(); return nil })

	cc := a.cfg.Checkout
	return httpapi.NewServer(httpapi.Deps{
		Products:     service.NewProductService(a.store.Products(), files, a.feed, a.log),
		Orders:       service.NewOrderService(a.store, a.feed, a.log),
		Users:        service.NewUserService(a.store.Users(), a.feed, a.log),
		Auth:         auth.NewService(a.store.Users(), a.sender(), a.log),
		Tokens:       auth.NewTokens(a.cfg.SessionSecret(), a.cfg.Session.TTL),
		Checkout:     checkout.NewService(a.store, a.feed, a.metrics, checkout.Config{CallTimeout: cc.CallTimeout, RedirectDelay: cc.RedirectDelay}, a.log),
		Inventory:    inventory.NewService(a.store, a.feed, a.metrics, a.log),
		Analytics:    analytics.NewService(a.store.Orders(), a.cfg.Location(), a.log),
		Catalog:      watcher,
		Sessions:     kv,
		Metrics:      a.metrics,
		Log:          a.log,
		SessionTTL:   a.cfg.Session.TTL,
		CookieSecure: a.cfg.HTTP.CookieSecure,
		UploadsDir:   uploadsDir,
	}), nil
}
