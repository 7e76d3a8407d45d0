package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/uenogami/stock-trading-game/internal/cards"
	"github.com/uenogami/stock-trading-game/internal/config"
	"github.com/uenogami/stock-trading-game/internal/metrics"
	"github.com/uenogami/stock-trading-game/internal/notify"
	"github.com/uenogami/stock-trading-game/internal/ranking"
	"github.com/uenogami/stock-trading-game/internal/session"
	"github.com/uenogami/stock-trading-game/internal/store"
	"github.com/uenogami/stock-trading-game/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub + notifiers ---
	hub := notify.NewHub()
	go hub.Run()

	var notifier notify.Notifier = hub
	if rdb != nil {
		notifier = notify.Multi{hub, notify.NewRedisPublisher(rdb, "game:events")}
	}

	// --- Game services ---
	clock := session.NewClock(cfg.SessionDuration)
	engine := cards.NewEngine(st, cards.DefaultCatalog())
	scheduler := session.NewScheduler(st, clock, engine, notifier, session.DefaultTimetable())
	rankings := ranking.NewService(st)
	svc := trade.NewService(st, cfg, clock, scheduler, engine, rankings, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Seed(ctx); err != nil {
		slog.Error("symbol seed failed", "err", err)
		os.Exit(1)
	}
	if err := clock.SyncFromStore(ctx, st); err != nil {
		slog.Warn("initial clock sync failed", "err", err)
	}

	// --- Background loops ---
	go clock.RunResync(ctx, st, cfg.ClockResyncEvery)
	go scheduler.Run(ctx, cfg.EventCheckEvery)
	go func() {
		ticker := time.NewTicker(cfg.CardSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept, err := engine.Sweep(ctx, time.Now().UTC()); err != nil {
					slog.Error("card sweep failed", "err", err)
				} else if swept > 0 {
					slog.Info("expired card grants swept", "count", swept)
				}
			}
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for the browser frontend.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"game-server"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for change notifications.
		r.Get("/ws", hub.HandleWS)

		// Players.
		r.Post("/players", svc.HandleCreateAccount)
		r.Get("/players/{playerID}", svc.HandleGetPlayer)
		r.Get("/players/{playerID}/cards", svc.HandlePlayerCards)

		// Trading.
		r.Post("/trades", svc.HandleTrade)
		r.Get("/symbols", svc.HandleListSymbols)
		r.Get("/symbols/{symbol}", svc.HandleGetSymbol)
		r.Get("/hide-prices", svc.HandlePricesHidden)

		// Session clock and scheduled events.
		r.Get("/session", svc.HandleSession)
		r.Post("/events/{event}", svc.HandleFireEvent)

		// Social and standings.
		r.Get("/timeline", svc.HandleListPosts)
		r.Post("/timeline", svc.HandleCreatePost)
		r.Get("/rankings", svc.HandleRankings)
		r.Get("/rankings/{playerID}/neighbors", svc.HandleNeighbors)

		// Card shop.
		r.Get("/cards", svc.HandleCardCatalog)
		r.Post("/cards", svc.HandleCardAction)

		// Insurance.
		r.Post("/insurance", svc.HandleInsurance)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("game-server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down game-server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("game-server stopped")
}
