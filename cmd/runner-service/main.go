package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codelab/internal/common/cache"
	"codelab/internal/common/http/middleware"
	"codelab/internal/common/mq"
	"codelab/internal/common/storage"
	"codelab/internal/judge/controller"
	"codelab/internal/judge/repository"
	"codelab/internal/judge/sandbox"
	"codelab/internal/judge/sandbox/compiler"
	"codelab/internal/judge/sandbox/engine"
	"codelab/internal/judge/sandbox/observer"
	"codelab/internal/judge/sandbox/transform"
	"codelab/internal/judge/sandbox/workspace"
	"codelab/internal/judge/service"
	"codelab/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/runner_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "runner service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observer.NewPrometheusRecorder(registry)

	runner, err := buildRunner(appCfg, metrics)
	if err != nil {
		return err
	}

	store, closeStore, err := buildResultStore(appCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher repository.ResultEventPublisher
	if appCfg.Kafka.Enabled() {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka producer failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQResultEventPublisher(producer, appCfg.Results.Topic)
		logger.Info(ctx, "run events enabled", zap.Strings("brokers", appCfg.Kafka.Brokers), zap.String("topic", appCfg.Results.Topic))
	}

	var objects storage.ObjectStorage
	if appCfg.MinIO.Enabled() {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		objects = minioStorage
	}

	runService, err := service.NewRunService(service.Config{
		Runner:           runner,
		Store:            store,
		Publisher:        publisher,
		Hub:              service.NewResultHub(),
		MaxConcurrent:    appCfg.Sandbox.MaxConcurrent,
		QueueTimeout:     appCfg.Sandbox.QueueTimeout,
		StoreTimeout:     appCfg.Results.StoreTimeout,
		PublishTimeout:   appCfg.Results.PublishTimeout,
		DefaultTimeLimit: appCfg.Sandbox.DefaultTimeLimit,
	})
	if err != nil {
		return fmt.Errorf("init run service failed: %w", err)
	}
	compareService := service.NewCompareService(objects, appCfg.MinIO.Bucket, appCfg.Sandbox.MaxCompareBytes)

	routerCfg := controller.RouterConfig{
		Gatherer:  registry,
		OnLimited: metrics.RateLimited,
	}
	if appCfg.RateLimit.Enabled() {
		routerCfg.RunLimiter = middleware.NewIPRateLimiter(appCfg.RateLimit)
	}
	gin.SetMode(gin.ReleaseMode)
	router := controller.NewRouter(controller.NewRunController(runService, compareService), routerCfg)

	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "runner http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-signalCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := runService.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "queued runs canceled at shutdown", zap.Error(err))
	}
	return nil
}

func buildRunner(appCfg *AppConfig, metrics observer.MetricsRecorder) (*sandbox.Runner, error) {
	workspaces, err := workspace.NewManager(appCfg.Sandbox.ScratchDir)
	if err != nil {
		return nil, err
	}
	toolchain, err := compiler.New(compiler.Config{
		CommandTemplate:    appCfg.Compiler.CommandTemplate,
		Timeout:            appCfg.Compiler.Timeout,
		MaxDiagnosticBytes: appCfg.Compiler.MaxDiagnosticBytes,
	})
	if err != nil {
		return nil, err
	}
	transformer, err := transform.FromName(appCfg.Compiler.Transform)
	if err != nil {
		return nil, err
	}
	supervisor := engine.NewSupervisor(engine.Config{MaxOutputBytes: appCfg.Sandbox.MaxOutputBytes})

	logger.Info(context.Background(), "sandbox ready",
		zap.String("scratch_dir", workspaces.Root()),
		zap.Strings("compile_command", toolchain.Command(&workspace.Workspace{SourcePath: "{src}", BinaryPath: "{bin}"})),
		zap.Int64("max_output_bytes", supervisor.MaxOutputBytes()),
	)
	return sandbox.NewRunner(workspaces, toolchain, supervisor,
		sandbox.WithTransformer(transformer),
		sandbox.WithMetrics(metrics),
		sandbox.WithLimits(sandbox.Limits{
			MaxSourceBytes: appCfg.Sandbox.MaxSourceBytes,
			MaxStdinBytes:  appCfg.Sandbox.MaxStdinBytes,
			MaxTimeLimit:   appCfg.Sandbox.MaxTimeLimit,
		}),
	), nil
}

func buildResultStore(appCfg *AppConfig) (repository.ResultStore, func(), error) {
	if appCfg.Redis.Addr == "" {
		logger.Info(context.Background(), "redis not configured, keeping results in memory",
			zap.Int("max_entries", appCfg.Results.MaxEntries))
		return repository.NewMemoryResultStore(appCfg.Results.MaxEntries, appCfg.Results.TTL), func() {}, nil
	}
	redisCache, err := cache.NewRedisCache(appCfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("init redis failed: %w", err)
	}
	store, err := repository.NewRedisResultStore(redisCache, appCfg.Results.TTL, appCfg.Results.CompressThreshold)
	if err != nil {
		_ = redisCache.Close()
		return nil, nil, err
	}
	return store, func() { _ = redisCache.Close() }, nil
}
