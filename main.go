package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-ragers/internal/auth"
	"ms-ragers/internal/checkin"
	"ms-ragers/internal/checkin/checkin_api"
	checkinredis "ms-ragers/internal/checkin/redis"
	"ms-ragers/internal/config"
	"ms-ragers/internal/database/migrations"
	"ms-ragers/internal/identity"
	"ms-ragers/internal/kafka"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/ragers/passqr"
	"ms-ragers/internal/ragers/rager_api"
	"ms-ragers/internal/sse"
	"ms-ragers/internal/ticketstore"
	"ms-ragers/internal/transfer"
	transferdb "ms-ragers/internal/transfer/db"
	transferredis "ms-ragers/internal/transfer/redis"
	"ms-ragers/internal/transfer/transfer_api"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	logger.Info("DATABASE", "PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	// The transfer-expiry sweep rides on key expiry notifications.
	_, err = redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result()
	if err != nil {
		logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		logger.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	logger.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
	return bunDB, redisClient
}

// subscribeTransferExpiry settles PENDING transfers whose redis TTL key
// expired. Proactive hardening only: claim evaluates expiry lazily, so a
// missed notification costs staleness, never correctness.
func subscribeTransferExpiry(rdb *redis.Client, svc *transfer.Service, logger *logger.Logger) {
	ctx := context.Background()

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	logger.Info("REDIS", "Subscribed to Redis keyevent expired notifications")

	go func() {
		for msg := range pubsub.Channel() {
			transferID, ok := transferredis.TransferIDFromKey(msg.Payload)
			if !ok {
				continue
			}
			logger.Info("SWEEP", fmt.Sprintf("Transfer expiry key fired for %s", transferID))
			if err := svc.ExpireTransfer(ctx, transferID); err != nil {
				logger.Error("SWEEP", fmt.Sprintf("Failed to expire transfer %s: %v", transferID, err))
			}
		}
	}()
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Rager Lifecycle Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("DATABASE", "Running schema migrations")
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.MigrateUp(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
	}

	// Connected SSE clients get lifecycle updates alongside kafka consumers.
	emitter := sse.NewLifecycleEventEmitter()

	var transferNotifier transfer.Notifier = emitter
	var scanNotifier checkin.ScanNotifier = emitter
	if cfg.Kafka.Enabled {
		logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()

		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.LifecycleTopics()); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}

		notifier := kafka.NewNotifier(producer, logger)
		transferNotifier = transfer.MultiNotifier(notifier, emitter)
		scanNotifier = checkin.MultiScanNotifier(notifier, emitter)
	} else {
		logger.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	httpClient := &http.Client{Timeout: cfg.Identity.Timeout}
	resolver := identity.NewHTTPResolver(cfg.Identity.BaseURL, cfg.Identity.ServiceToken, httpClient)

	store := ticketstore.New(bunDB)
	transferService := transfer.NewService(
		store,
		&transferdb.DB{Bun: bunDB},
		resolver,
		transferNotifier,
		transferredis.NewExpiry(redisClient),
		logger,
	)
	checkinService := checkin.NewService(
		store,
		checkinredis.NewIdempotency(redisClient),
		resolver,
		scanNotifier,
		logger,
	)

	passGen := passqr.NewGenerator(cfg.Pass.SecretKey)
	transferHandler := transfer_api.NewHandler(transferService, logger)
	transferSSE := transfer_api.NewSSEHandler(logger, emitter)
	checkinHandler := checkin_api.NewHandler(checkinService, passGen, logger)
	checkinSSE := checkin_api.NewSSEHandler(logger, emitter)
	ragerHandler := rager_api.NewHandler(store, passGen, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))
		logger.Info("AUTH", "Bearer token middleware applied to API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/ragers", func(r chi.Router) {
				r.Get("/wallet", ragerHandler.Wallet)

				r.Route("/transfer", func(r chi.Router) {
					r.Post("/", transferHandler.CreateTransfer)
					r.Get("/", transferHandler.ListTransfers)
					r.Get("/updates", transferSSE.HandleTransferUpdates)
					r.Post("/{transferID}/claim", transferHandler.ClaimTransfer)
					r.Delete("/{transferID}", transferHandler.CancelTransfer)
				})

				r.Get("/{ticketID}", ragerHandler.ViewTicket)
				r.Get("/{ticketID}/pass", ragerHandler.Pass)
			})
			logger.Info("ROUTER", "Rager and transfer routes registered under /api/ragers")

			r.Route("/checkin", func(r chi.Router) {
				r.Use(auth.RequireRole(cfg.Auth.ScannerRole))
				r.Post("/scan", checkinHandler.Scan)
				r.Get("/events/{eventID}/guests", checkinHandler.GuestList)
				r.Get("/events/{eventID}/scans", checkinSSE.HandleScanUpdates)
			})
			logger.Info("ROUTER", "Check-in routes registered under /api/checkin")

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(cfg.Auth.AdminRole))
				r.Delete("/transfer/{transferID}", transferHandler.AdminCancelTransfer)
			})
			logger.Info("ROUTER", "Admin routes registered under /api/admin")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info("REDIS", "Starting transfer expiry subscription")
	subscribeTransferExpiry(redisClient, transferService, logger)

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Rager Lifecycle Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Rager Lifecycle Service shutdown complete")
	}
}
