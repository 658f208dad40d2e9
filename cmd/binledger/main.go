package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Spok95/binledger/internal/access"
	"github.com/Spok95/binledger/internal/config"
	"github.com/Spok95/binledger/internal/infra/db"
	httpx "github.com/Spok95/binledger/internal/infra/http"
	"github.com/Spok95/binledger/internal/infra/logger"
	"github.com/Spok95/binledger/internal/infra/metrics"
	"github.com/Spok95/binledger/internal/infra/notify"
	"github.com/Spok95/binledger/internal/ledger"
	"github.com/Spok95/binledger/internal/reconcile"
	"github.com/Spok95/binledger/internal/store"
	"github.com/Spok95/binledger/migrations"
)

func runMigrations(dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(sqlDB, ".")
}

func newNotifier(cfg config.Config, log *slog.Logger) notify.Notifier {
	if cfg.Telegram.Token == "" {
		log.Info("telegram alerts disabled")
		return notify.Nop{}
	}
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Error("telegram init failed, alerts disabled", "err", err)
		return notify.Nop{}
	}
	log.Info("telegram alerts enabled", "bot", api.Self.UserName)
	return notify.NewTelegram(api, log, cfg.Telegram.AdminChatID, cfg.Telegram.AlertChats...)
}

// newChecker: без rbac.url проверка прав выключена; redis необязателен.
func newChecker(ctx context.Context, cfg config.Config, log *slog.Logger) (access.Checker, func()) {
	if cfg.RBAC.URL == "" {
		log.Warn("rbac.url is empty, all actions are allowed")
		return access.AllowAll{}, func() {}
	}
	var checker access.Checker = access.NewHTTPChecker(cfg.RBAC.URL, cfg.RBAC.Timeout, false, log)
	if cfg.Redis.Addr == "" {
		return checker, func() {}
	}
	cache, err := access.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Error("redis unavailable, permission cache disabled", "err", err)
		return checker, func() {}
	}
	return access.NewCached(checker, cache, cfg.Redis.TTL, log), func() { _ = cache.Close() }
}

func main() {
	path := flag.String("config", "config/example.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		log.Error("bad app.timezone", "tz", cfg.App.Timezone, "err", err)
		return
	}

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	checker, closeChecker := newChecker(ctx, cfg, log)
	defer closeChecker()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
	}
	st := store.NewPostgres(pool)
	n := newNotifier(cfg, log)
	now := func() time.Time { return time.Now().In(loc) }

	svc := ledger.New(ledger.Deps{
		Store:      st,
		Access:     checker,
		Notify:     n,
		Metrics:    m,
		Log:        log,
		Now:        now,
		StagingBin: cfg.Warehouse.StagingBin,
	})
	imports := reconcile.New(reconcile.Deps{
		Store:   st,
		Access:  checker,
		Notify:  n,
		Metrics: m,
		Log:     log,
		Now:     now,
		MaxRows: cfg.Import.MaxRows,
	})
	api, err := httpx.NewAPI(httpx.APIDeps{
		Ledger:     svc,
		Imports:    imports,
		Log:        log,
		JWTSecret:  cfg.Auth.JWTSecret,
		ImportRate: cfg.HTTP.ImportRate,
	})
	if err != nil {
		log.Error("api init failed", "err", err)
		return
	}

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, api)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			stop()
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
