package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/scanbook/internal/booking/domain"
	"github.com/example/scanbook/internal/booking/handler"
	"github.com/example/scanbook/internal/booking/hold"
	"github.com/example/scanbook/internal/booking/repository"
	bookingservice "github.com/example/scanbook/internal/booking/service"
	"github.com/example/scanbook/internal/catalog/feed"
	catalogrepo "github.com/example/scanbook/internal/catalog/repository"
	outboxworker "github.com/example/scanbook/internal/outbox"
	"github.com/example/scanbook/pkg/events"
	"github.com/example/scanbook/pkg/observability"
)

type appConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	PostgresDSN string
	RedisAddr   string
	NATSURL     string
	JWTSecret   string
	HoldTTL     time.Duration
	FeePercent  int64
	SweepEvery  time.Duration
	OutboxPoll  time.Duration
	OutboxBatch int
	OutboxRetry int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("booking-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "booking-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("bookingservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	holds := buildHoldStore(redisClient)
	catalog := catalogrepo.NewMemoryCatalog()
	repo := repository.NewMemoryRepository()
	idem := repository.NewMemoryIdempotencyRepo()
	publisher := events.NewPublisher(natsConn, "booking.events")

	svc := bookingservice.New(repo, catalog, holds, publisher, domain.SystemClock{}, idem, bookingservice.Config{
		HoldTTL:    cfg.HoldTTL,
		FeePercent: cfg.FeePercent,
	})

	sweeper := bookingservice.NewSweeper(svc, logger.Named("sweeper"), bookingservice.SweeperConfig{
		Interval: cfg.SweepEvery,
	})
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("hold sweeper stopped", zap.Error(err))
		}
	}()

	if db != nil && natsConn != nil {
		worker := outboxworker.NewWorker(db, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
			PollInterval: cfg.OutboxPoll,
			BatchSize:    cfg.OutboxBatch,
			RetryMax:     cfg.OutboxRetry,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("outbox worker disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	go runFeed(logger, cfg.GRPCAddr, catalog)

	bookingHTTP := handler.NewHTTP(svc, cfg.JWTSecret)

	r := chi.NewRouter()
	r.Mount("/", bookingHTTP.Router())
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("booking service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runFeed accepts imaging-center slot pushes so this node's inventory stays
// current without polling the catalog service.
func runFeed(logger *zap.Logger, addr string, catalog *catalogrepo.MemoryCatalog) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	srv := grpc.NewServer()
	feed.RegisterSlotFeedServer(srv, feed.NewServer(catalog))
	logger.Info("slot feed listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func buildHoldStore(redisClient *redis.Client) hold.Store {
	if redisClient == nil {
		return hold.NewMemoryStore(domain.SystemClock{})
	}
	return hold.NewRedisStore(redisClient, "")
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:    getenv("GRPC_ADDR", ":9091"),
		PostgresDSN: firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		NATSURL:     os.Getenv("NATS_URL"),
		JWTSecret:   getenv("JWT_SECRET", "dev-secret"),
		HoldTTL:     time.Duration(parseIntEnv("HOLD_TTL_SEC", 420)) * time.Second,
		FeePercent:  int64(parseIntEnv("BOOKING_FEE_PCT", 3)),
		SweepEvery:  time.Duration(parseIntEnv("SWEEP_INTERVAL_SEC", 15)) * time.Second,
		OutboxPoll:  time.Duration(parseIntEnv("OUTBOX_POLL_MS", 200)) * time.Millisecond,
		OutboxBatch: parseIntEnv("OUTBOX_BATCH", 100),
		OutboxRetry: parseIntEnv("OUTBOX_RETRY_MAX", 3),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
