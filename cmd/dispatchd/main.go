package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/invoice-dispatch/internal/async"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/export"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm/provider"
	"github.com/joseph-ayodele/invoice-dispatch/internal/metrics"
	"github.com/joseph-ayodele/invoice-dispatch/internal/pipeline"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
	"github.com/joseph-ayodele/invoice-dispatch/internal/reconcile"
	repo "github.com/joseph-ayodele/invoice-dispatch/internal/repository"
	svc "github.com/joseph-ayodele/invoice-dispatch/internal/server"
)

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close(logger)

	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := repo.Migrate(ctx, db, logger); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatchesRepo := repo.NewDispatchRepository(db, logger)
	stockRepo := repo.NewStockRepository(db, logger)
	countersRepo := repo.NewCounterRepository(db, logger)
	productsRepo := repo.NewProductRepository(db, logger)

	extractor, err := provider.New(cfg.LLM, logger)
	if err != nil {
		logger.Error("failed to build extraction client", "error", err)
		os.Exit(2)
	}

	rasterOpts := raster.Options{
		Page:     cfg.Raster.Page,
		Scale:    cfg.Raster.Scale,
		Format:   raster.Format(cfg.Raster.Format),
		Quality:  cfg.Raster.Quality,
		MaxWidth: cfg.Raster.MaxWidth,
	}
	rasterizer := raster.New(rasterOpts, logger)
	logger.Info("raster defaults", "options", rasterizer.Defaults())

	reconciler := reconcile.NewService(dispatchesRepo, stockRepo, countersRepo, logger, reconcile.WithMetrics(m))
	queue := async.NewWorkerQueue(reconciler, logger,
		async.WithWorkers(cfg.Pipeline.StockWorkers),
		async.WithQueueSize(cfg.Pipeline.StockQueueSize),
		async.WithProcessTimeout(time.Minute),
		async.WithStatusHistory(cfg.Pipeline.StockJobHistory),
	)

	machine := pipeline.NewMachine(pipeline.Config{
		DateOffsetDays: cfg.Pipeline.DateOffsetDays,
		MaxTokens:      cfg.LLM.MaxTokens,
		Raster:         rasterizer.Defaults(),
	})
	sessions := pipeline.New(machine, rasterizer, extractor, reconciler, productsRepo, logger, pipeline.WithMetrics(m))

	api := svc.New(svc.Deps{
		Sessions:   sessions,
		Dispatches: dispatchesRepo,
		Stock:      stockRepo,
		Counters:   countersRepo,
		Products:   productsRepo,
		Export:     export.NewService(dispatchesRepo, stockRepo, logger),
		Jobs:       queue,
		Gatherer:   reg,
		Ping: func(ctx context.Context) error {
			return repo.HealthCheck(ctx, db, 2*time.Second, logger)
		},
	}, cfg.Server, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// uploads wait for rasterization and the model call
		WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
	}

	// gRPC carries the standard health service for orchestrators
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcAddr := cfg.Server.GRPCAddr
	if grpcAddr != "" && !strings.Contains(grpcAddr, ":") {
		grpcAddr = ":" + grpcAddr
	}
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", grpcAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc health listening", "addr", grpcAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
				stop()
			}
		}()
	}

	go func() {
		logger.Info("invoice-dispatch listening", "addr", cfg.Server.HTTPAddr, "provider", cfg.LLM.Provider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
}

func logLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
