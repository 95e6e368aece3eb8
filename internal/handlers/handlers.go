// Package handlers содержит HTTP обработчики для API.
// Ошибки предметной области отдаются со статусом 200 и полем error.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"envira-service/internal/cache"
	"envira-service/internal/inference"
	"envira-service/internal/metrics"
	"envira-service/internal/models"
	"envira-service/internal/storage"
)

const (
	// DefaultHistoryCount сколько показаний отдает история по умолчанию
	DefaultHistoryCount = 50
	// MaxHistoryCount верхняя граница count для истории
	MaxHistoryCount = 1000
	// DefaultMaxUploadBytes предел размера загружаемого изображения
	DefaultMaxUploadBytes = 10 << 20
)

// Сообщения об ошибках для GET /api/sensor-data
const (
	msgLogNotFound  = "Sensor CSV file not found"
	msgNoData       = "No sensor data available"
	msgMalformedRow = "Malformed sensor data"
)

// ImageClassifier классификация загруженного изображения
type ImageClassifier interface {
	Classify(ctx context.Context, image []byte) (inference.Result, error)
}

// WindowStatsProvider статистика калибратора для /stats
type WindowStatsProvider interface {
	Stats() models.WindowStats
	GasDivisor() float64
}

// ReadingCache кэш последних показаний
type ReadingCache interface {
	GetLatestReadings(ctx context.Context, count int64) ([]models.Reading, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}

// Config зависимости обработчиков. Cache и IngestState необязательны.
type Config struct {
	LogPath        string
	Classifier     ImageClassifier
	Stats          WindowStatsProvider
	Cache          ReadingCache
	IngestState    func() string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	logPath        string
	classifier     ImageClassifier
	stats          WindowStatsProvider
	cache          ReadingCache
	ingestState    func() string
	maxUploadBytes int64
	logger         *slog.Logger
	startTime      time.Time
	now            func() time.Time
}

// NewHandler создает новый обработчик
func NewHandler(cfg Config) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		logPath:        cfg.LogPath,
		classifier:     cfg.Classifier,
		stats:          cfg.Stats,
		cache:          cfg.Cache,
		ingestState:    cfg.IngestState,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger.With("component", "api"),
		startTime:      time.Now(),
		now:            time.Now,
	}
}

// SensorDataHandler обрабатывает GET /api/sensor-data - последнее показание из журнала
func (h *Handler) SensorDataHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/sensor-data", r.Method))
	defer timer.ObserveDuration()

	reading, err := storage.ReadLast(h.logPath)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("/api/sensor-data", r.Method, "error").Inc()
		h.respondError(w, sensorDataError(err), http.StatusOK)
		return
	}

	response := models.SensorDataResponse{
		PM25:          reading.PM25,
		MQ135:         reading.GasSmoothed,
		Timestamp:     float64(h.now().UnixNano()) / 1e9,
		DataTimestamp: reading.Timestamp,
		Source:        models.SourceRealSensor,
	}

	metrics.RequestsTotal.WithLabelValues("/api/sensor-data", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// sensorDataError переводит ошибку журнала в сообщение для клиента
func sensorDataError(err error) string {
	switch {
	case errors.Is(err, storage.ErrLogNotFound):
		return msgLogNotFound
	case errors.Is(err, storage.ErrNoData):
		return msgNoData
	case errors.Is(err, storage.ErrMalformedRow):
		return msgMalformedRow
	default:
		return err.Error()
	}
}

// PredictHandler обрабатывает POST /api/predict - классификация загруженного снимка
func (h *Handler) PredictHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/predict", r.Method))
	defer timer.ObserveDuration()

	fail := func(msg string) {
		metrics.PredictionErrors.Inc()
		metrics.RequestsTotal.WithLabelValues("/api/predict", r.Method, "error").Inc()
		h.respondError(w, msg, http.StatusOK)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		fail("Invalid upload: " + err.Error())
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		fail("Failed to read upload: " + err.Error())
		return
	}

	result, err := h.classifier.Classify(r.Context(), image)
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("prediction abandoned", "error", err)
		} else {
			h.logger.Warn("prediction failed", "error", err)
		}
		fail(err.Error())
		return
	}

	metrics.PredictionsTotal.WithLabelValues(result.Label).Inc()
	metrics.RequestsTotal.WithLabelValues("/api/predict", r.Method, "200").Inc()
	h.respondJSON(w, models.PredictionResponse{
		PredictedClass: result.Label,
		Confidence:     result.Confidence,
	}, http.StatusOK)
}

// HistoryHandler возвращает последние показания из кэша или хвоста журнала
func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/sensor-data/history", r.Method))
	defer timer.ObserveDuration()

	count := int64(DefaultHistoryCount)
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.ParseInt(countStr, 10, 64); err == nil && c > 0 && c <= MaxHistoryCount {
			count = c
		}
	}

	if h.cache != nil {
		readings, err := h.cache.GetLatestReadings(r.Context(), count)
		if err == nil && len(readings) > 0 {
			metrics.CacheHits.Inc()
			metrics.RequestsTotal.WithLabelValues("/api/sensor-data/history", r.Method, "200").Inc()
			h.respondJSON(w, models.HistoryResponse{Source: "redis", Count: len(readings), Readings: readings}, http.StatusOK)
			return
		}
		if err != nil {
			h.logger.Warn("history cache read failed", "error", err)
		}
		metrics.CacheMisses.Inc()
	}

	readings, err := storage.ReadTail(h.logPath, int(count))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("/api/sensor-data/history", r.Method, "error").Inc()
		h.respondError(w, sensorDataError(err), http.StatusOK)
		return
	}

	metrics.RequestsTotal.WithLabelValues("/api/sensor-data/history", r.Method, "200").Inc()
	h.respondJSON(w, models.HistoryResponse{Source: "log", Count: len(readings), Readings: readings}, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disabled"
	if h.cache != nil {
		redisStatus = "disconnected"
		if h.cache.Ping(r.Context()) == nil {
			redisStatus = "connected"
		}
	}

	ingestion := "unknown"
	if h.ingestState != nil {
		ingestion = h.ingestState()
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: h.now(),
		Ingestion: ingestion,
		Redis:     redisStatus,
		Uptime:    time.Since(h.startTime).String(),
	}

	h.respondJSON(w, status, http.StatusOK)
}

// StatsHandler обрабатывает GET /stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/stats", r.Method))
	defer timer.ObserveDuration()

	// Обновляем метрику горутин
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	var response models.StatsResponse
	if h.cache != nil {
		response.ReadingsTotal, _ = h.cache.GetCounter(r.Context(), cache.ReadingsTotalKey)
		response.FramesRejected, _ = h.cache.GetCounter(r.Context(), cache.FramesRejectedKey)
	}
	if h.stats != nil {
		response.Window = h.stats.Stats()
		response.GasDivisor = h.stats.GasDivisor()
	}

	metrics.RequestsTotal.WithLabelValues("/stats", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, models.ErrorResponse{Error: message}, status)
}
