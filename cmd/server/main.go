// Package main запускает шлюз телеметрии качества воздуха.
// Сервис реализует:
// - Прием кадров PM2.5/газа с платы по последовательному порту
// - Сглаживание газового датчика скользящим средним (окно 5 показаний)
// - Журнал показаний в CSV и публикацию в Redis/InfluxDB
// - HTTP API последнего показания и классификации снимков неба
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"envira-service/internal/analytics"
	"envira-service/internal/cache"
	"envira-service/internal/config"
	"envira-service/internal/handlers"
	"envira-service/internal/inference"
	"envira-service/internal/influxdb"
	"envira-service/internal/ingest"
	"envira-service/internal/metrics"
	"envira-service/internal/serial"
	"envira-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("starting envira service",
		"go_version", runtime.Version(),
		"num_cpu", runtime.NumCPU(),
		"device", cfg.Serial.Device,
		"log_path", cfg.Ingest.LogPath)

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Журнал показаний
	sensorLog, err := storage.Open(cfg.Ingest.LogPath)
	if err != nil {
		return err
	}
	defer sensorLog.Close()

	calibrator := analytics.NewCalibrator(cfg.Ingest.WindowSize, cfg.Ingest.GasDivisor)

	// Классификатор: таблица меток и внешний движок обязательны
	labels, err := inference.LoadLabels(cfg.Inference.LabelsPath)
	if err != nil {
		return err
	}
	engine := inference.NewHTTPEngine(cfg.Inference.URL, cfg.Inference.Timeout)
	if err := waitForEngine(ctx, engine, cfg.Inference.Attempts, logger); err != nil {
		return err
	}
	classifier := inference.NewClassifier(engine, labels)
	logger.Info("inference engine ready", "url", cfg.Inference.URL, "classes", []string(classifier.Labels()))

	// Приемники показаний необязательны
	var sinks []ingest.Sink
	redisCache := connectRedis(cfg.Redis, logger)
	if redisCache != nil {
		defer redisCache.Close()
		sinks = append(sinks, redisCache)
	}
	if cfg.InfluxDB.URL != "" {
		influx, err := influxdb.NewClient(cfg.InfluxDB)
		if err != nil {
			logger.Warn("running without InfluxDB", "error", err)
		} else {
			defer influx.Close()
			sinks = append(sinks, influx)
			logger.Info("connected to InfluxDB", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	loop := ingest.NewLoop(ingest.Config{
		Device:         cfg.Serial.Device,
		BaudRate:       cfg.Serial.BaudRate,
		ReadTimeout:    cfg.Serial.ReadTimeout,
		SettleDelay:    cfg.Serial.SettleDelay,
		SampleInterval: cfg.Ingest.SampleInterval,
		Reconnect: ingest.ReconnectConfig{
			MaxRetries:    cfg.Serial.MaxReconnects,
			RetryDelay:    cfg.Serial.ReconnectDelay,
			MaxRetryDelay: cfg.Serial.ReconnectMaxDelay,
		},
	}, serial.Open, calibrator, sensorLog, logger, sinks...)

	if redisCache != nil {
		loop.OnReject(func(ctx context.Context) {
			if _, err := redisCache.IncrementCounter(ctx, cache.FramesRejectedKey); err != nil {
				logger.Debug("failed to count rejected frame", "error", err)
			}
		})
	}

	if err := loop.Connect(ctx); err != nil {
		if ports, lerr := serial.ListPorts(); lerr == nil {
			logger.Error("serial device unavailable", "device", cfg.Serial.Device, "available", ports)
		}
		return err
	}

	handlerCfg := handlers.Config{
		LogPath:        cfg.Ingest.LogPath,
		Classifier:     classifier,
		Stats:          calibrator,
		IngestState:    func() string { return loop.State().String() },
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	}
	if redisCache != nil {
		handlerCfg.Cache = redisCache
	}
	router := handlers.NewRouter(handlers.NewHandler(handlerCfg), logger)

	// HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go updateMetricsLoop(ctx)

	// Прием и HTTP сервер живут в одной группе: отказ одного останавливает оба
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// waitForEngine ждет готовности движка классификации с повторами
func waitForEngine(ctx context.Context, engine *inference.HTTPEngine, attempts int, logger *slog.Logger) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = engine.Ready(ctx); err == nil {
			return nil
		}
		logger.Warn("inference engine not ready", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}
	return err
}

// connectRedis пробует подключиться к Redis с повторами; nil значит работу без кэша
func connectRedis(cfg config.RedisConfig, logger *slog.Logger) *cache.RedisCache {
	if cfg.Addr == "" {
		logger.Info("redis disabled")
		return nil
	}

	var err error
	for i := 0; i < 5; i++ {
		var redisCache *cache.RedisCache
		redisCache, err = cache.NewRedisCache(cfg.Addr, cfg.Password, cfg.DB)
		if err == nil {
			logger.Info("connected to Redis", "addr", cfg.Addr)
			return redisCache
		}
		logger.Warn("redis connection attempt failed", "attempt", i+1, "error", err)
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}

	logger.Warn("running without cache", "error", err)
	return nil
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
