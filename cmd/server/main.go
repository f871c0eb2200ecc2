package main

import (
	"context"
	"database/sql"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/sales-ledger/internal/adapter/handler"
	"github.com/rl1809/sales-ledger/internal/adapter/storage"
	"github.com/rl1809/sales-ledger/internal/config"
	"github.com/rl1809/sales-ledger/internal/core/service"
	"github.com/rl1809/sales-ledger/internal/platform/metrics"
	"github.com/rl1809/sales-ledger/internal/platform/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		stdlog.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	tracingShutdown, err := observability.SetupTracingSDK(ctx, cfg)
	if err != nil {
		logger.Error("Failed to setup tracing, continuing without export", zap.Error(err))
	}
	if tracingShutdown != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tracingShutdown(shutdownCtx); err != nil {
				logger.Error("Error during tracing shutdown", zap.Error(err))
			}
		}()
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	if cfg.EnsureSchema {
		if err := storage.EnsureSchema(ctx, db); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
	}

	mysqlAdapter := storage.NewMySQLAdapter(db)
	transactionService := service.NewTransactionService(mysqlAdapter, logger, cfg.LowStockThreshold)
	m := metrics.New()

	// Event keys are claimed in MySQL; Redis only caches finished keys
	var rdb *redis.Client
	opts := handler.ConsumerOptions{
		Idempotency:  cfg.DedupEnabled,
		Metrics:      m,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
	}
	if cfg.DedupEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		logger.Info("connected to redis, finished-key cache enabled", zap.Duration("ttl", cfg.DedupTTL))
		opts.Dedup = storage.NewRedisAdapter(rdb, cfg.DedupTTL)
	}

	var dlq *kafka.Writer
	if cfg.KafkaDLQTopic != "" {
		dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.KafkaDLQTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		}
		opts.DeadLetters = dlq
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	logger.Info("Configured Kafka consumer",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group_id", cfg.KafkaGroupID),
		zap.String("dlq_topic", cfg.KafkaDLQTopic),
	)

	consumer := handler.NewKafkaConsumer(reader, transactionService, logger, opts)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			logger.Error("Kafka consumer stopped", zap.Error(err))
		}
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterTransactionService(grpcServer, handler.NewGRPCHandler(transactionService, m, logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(transactionService, mysqlAdapter, mysqlAdapter, m, logger).Register(mux)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Stop the consumer; an in-flight event finishes or stays uncommitted
	cancel()
	wg.Wait()
	if err := reader.Close(); err != nil {
		logger.Error("failed to close kafka reader", zap.Error(err))
	}
	logger.Info("consumer stopped")

	if dlq != nil {
		dlq.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logger.Info("connections closed")
}
