package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"nutriplan/internal/aggregate"
	"nutriplan/internal/catalog"
	redisclient "nutriplan/internal/clients/redis"
	"nutriplan/internal/config"
	"nutriplan/internal/db"
	"nutriplan/internal/events"
	"nutriplan/internal/handlers"
	"nutriplan/internal/logger"
	mw "nutriplan/internal/middleware"
	"nutriplan/internal/plans"
	"nutriplan/internal/store"
	"nutriplan/internal/store/memory"
	"nutriplan/internal/store/postgres"
)

func openStore(log *logger.Logger, databaseURL string) (store.Store, func(), error) {
	if databaseURL == "" {
		log.Warn("DATABASE_URL not set; using the in-memory store")
		return memory.New(), func() {}, nil
	}
	dbConn, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, err
	}
	dbConn.SetMaxOpenConns(10)
	dbConn.SetConnMaxLifetime(2 * time.Hour)
	if err = dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, nil, err
	}
	if err := db.RunMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, nil, err
	}
	return postgres.New(dbConn), func() { _ = dbConn.Close() }, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	st, closeStore, err := openStore(log, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open store", "error", err)
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := aggregate.NewCache(cfg.Cache.StaleAfter)
	refresher := aggregate.NewRefresher(log, st, cache, aggregate.RefresherOptions{
		Debounce: cfg.Cache.Debounce,
		Timeout:  cfg.Cache.RefreshTimeout,
	})
	agg := aggregate.NewAggregator(st, cache)

	var publisher events.Publisher
	var bus redisclient.InvalidationBus
	if cfg.RedisAddr != "" {
		bus, err = redisclient.NewInvalidationBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("redis unavailable; invalidations stay local", "error", err)
		} else {
			publisher = bus
			defer bus.Close()
		}
	}
	notifier := events.NewNotifier(log, refresher, publisher)
	if bus != nil && publisher != nil {
		if err := bus.StartForwarder(ctx, notifier.Forward); err != nil {
			log.Warn("redis forwarder not started", "error", err)
		}
	}

	refresher.Start(ctx)
	if err := refresher.RefreshNow(ctx); err != nil {
		log.Warn("initial aggregate refresh failed; serving live until the next cycle", "error", err)
	}

	api := handlers.API{
		Foods:     handlers.NewFoodHandler(catalog.NewService(log, st, cfg.Guardrails, notifier)),
		Logs:      handlers.NewLogHandler(st),
		Meals:     handlers.NewMealHandler(st, agg, notifier),
		Plans:     handlers.NewPlanHandler(plans.NewService(log, st, notifier), agg),
		Nutrition: handlers.NewNutritionHandler(agg, refresher),
		Health:    handlers.NewHealthHandler(st),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.ZapRequestLogger(log.Desugar()))

	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))
	api.Mount(r, authMW.RequireAuth, mw.RequirePrivileged)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("server stopped")
}
