package handlers

import (
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter настраивает маршруты API
func NewRouter(h *Handler, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()

	// API эндпоинты
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sensor-data", h.SensorDataHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sensor-data/history", h.HistoryHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/predict", h.PredictHandler).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware)

	return router
}
