// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты разбора кадров для FramesTotal
const (
	FrameAccepted  = "accepted"
	FrameNoise     = "noise"
	FrameMalformed = "malformed"
	FrameTooLong   = "too_long"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envira_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envira_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"endpoint", "method"},
	)

	// FramesTotal количество строк с порта по результату разбора
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envira_serial_frames_total",
			Help: "Total number of serial lines by parse result",
		},
		[]string{"result"},
	)

	// ReadingsAppended количество показаний, записанных в журнал
	ReadingsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envira_readings_appended_total",
			Help: "Total number of readings appended to the sensor log",
		},
	)

	// AppendErrors ошибки записи в журнал
	AppendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envira_log_append_errors_total",
			Help: "Total number of failed sensor log appends",
		},
	)

	// SinkErrors ошибки публикации показаний во внешние хранилища
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envira_sink_errors_total",
			Help: "Total number of failed reading publications per sink",
		},
		[]string{"sink"},
	)

	// PM25 последнее значение PM2.5
	PM25 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "envira_pm25_ug_m3",
			Help: "Latest calibrated PM2.5 concentration",
		},
	)

	// GasSmoothed последнее сглаженное значение газового датчика
	GasSmoothed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "envira_gas_smoothed_ppm",
			Help: "Latest smoothed gas concentration",
		},
	)

	// SerialConnected состояние соединения с платой (1 - подключена)
	SerialConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "envira_serial_connected",
			Help: "Whether the sensor board serial connection is open",
		},
	)

	// SerialReconnects количество попыток переподключения
	SerialReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envira_serial_reconnect_attempts_total",
			Help: "Total number of serial reconnection attempts",
		},
	)

	// IngestLatency время обработки одного кадра (разбор, калибровка, запись)
	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envira_ingest_latency_seconds",
			Help:    "Frame processing latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// PredictionsTotal количество классификаций по классу
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envira_predictions_total",
			Help: "Total number of image classifications by predicted class",
		},
		[]string{"class"},
	)

	// PredictionErrors ошибки классификации изображений
	PredictionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envira_prediction_errors_total",
			Help: "Total number of failed image classifications",
		},
	)

	// InferenceLatency время ответа внешнего сервиса инференса
	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envira_inference_latency_seconds",
			Help:    "Inference engine latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envira_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "envira_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "envira_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// ObserveReading обновляет метрики по записанному показанию
func ObserveReading(pm25, gas float64) {
	ReadingsAppended.Inc()
	PM25.Set(pm25)
	GasSmoothed.Set(gas)
}
