package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/scanbook/internal/catalog"
	"github.com/example/scanbook/internal/catalog/feed"
	"github.com/example/scanbook/internal/catalog/handler"
	"github.com/example/scanbook/internal/catalog/repository"
	catalogsvc "github.com/example/scanbook/internal/catalog/service"
	"github.com/example/scanbook/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("catalog-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "catalog-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	httpAddr := getenv("HTTP_ADDR", ":8081")
	grpcAddr := getenv("GRPC_ADDR", ":9090")
	jwtSecret := getenv("JWT_SECRET", "dev-secret")

	var index catalog.CenterIndex
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer client.Close()
		index = catalog.NewRedisCenterIndex(client, "")
	}

	cat := repository.NewMemoryCatalog()
	svc := catalogsvc.New(cat, index)

	go runREST(logger, httpAddr, svc, jwtSecret)
	go runFeed(logger, grpcAddr, cat)

	<-ctx.Done()
	logger.Info("shutdown signal received")
}

func runREST(logger *zap.Logger, addr string, svc *catalogsvc.Service, jwtSecret string) {
	r := chi.NewRouter()
	r.Mount("/", handler.New(svc, jwtSecret).Router())
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("catalog REST listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("catalog rest server", zap.Error(err))
	}
}

func runFeed(logger *zap.Logger, addr string, cat *repository.MemoryCatalog) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	srv := grpc.NewServer()
	feed.RegisterSlotFeedServer(srv, feed.NewServer(cat))
	logger.Info("slot feed listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
