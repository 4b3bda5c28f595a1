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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/specter/community-engine/internal/jobs"
	"github.com/specter/community-engine/internal/metrics"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/poll"
	"github.com/specter/community-engine/internal/price"
	"github.com/specter/community-engine/internal/store"
	"github.com/specter/community-engine/internal/token"
	"github.com/specter/community-engine/internal/trading"
	"github.com/specter/community-engine/internal/xp"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
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

	// --- Price source ---
	priceTTL := 60 * time.Second
	if raw := os.Getenv("PRICE_CACHE_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			priceTTL = d
		}
	}
	prices := price.NewCoinGecko(os.Getenv("COINGECKO_URL"), priceTTL)

	// --- WebSocket hub ---
	wsHub := notify.NewHub()
	go wsHub.Run()

	// --- Engines ---
	center := notify.NewCenter(st, wsHub)
	xpEngine := xp.NewEngine(st, center)
	xpSvc := xp.NewService(xpEngine, st)
	tradeEngine := trading.NewEngine(st, prices, xpEngine, center)
	pollEngine := poll.NewEngine(st, xpEngine, center, nil)
	issuer := token.NewIssuer(st, nil)

	// --- Maintenance jobs ---
	sched := jobs.NewScheduler(pollEngine, issuer)
	if err := sched.Start(); err != nil {
		slog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
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
		w.Write([]byte(`{"status":"ok","service":"community-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time notification push.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts and gamification.
		r.Post("/accounts", xpSvc.HandleRegister)
		r.Get("/accounts/{accountID}", xpSvc.HandleGetAccount)
		r.Post("/accounts/{accountID}/login", xpSvc.HandleLogin)
		r.Post("/accounts/{accountID}/news-read", xpSvc.HandleNewsRead)
		r.Get("/accounts/{accountID}/achievements", xpSvc.HandleAchievements)
		r.Get("/leaderboard", xpSvc.HandleLeaderboard)

		// Simulated trading.
		r.Post("/trades", tradeEngine.HandleOpen)
		r.Get("/trades", tradeEngine.HandleList)
		r.Get("/trades/stats", tradeEngine.HandleStats)
		r.Post("/trades/{tradeID}/close", tradeEngine.HandleClose)

		// Reference price.
		r.Get("/price", tradeEngine.HandlePrice)
		r.Get("/price/history", tradeEngine.HandlePriceHistory)

		// Community polls.
		r.Get("/polls", pollEngine.HandleListActive)
		r.Post("/polls", pollEngine.HandleCreate)
		r.Post("/polls/{pollID}/vote", pollEngine.HandleVote)
		r.Get("/polls/{pollID}/results", pollEngine.HandleResults)

		// Notifications.
		r.Get("/accounts/{accountID}/notifications", center.HandleList)
		r.Get("/accounts/{accountID}/notifications/unread", center.HandleUnreadCount)
		r.Post("/notifications/{notificationID}/read", center.HandleMarkRead)

		// Auth tokens.
		r.Post("/auth/reset-request", issuer.HandleResetRequest)
		r.Post("/auth/reset-confirm", issuer.HandleResetConfirm)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("community-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down community-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("community-engine stopped")
}
