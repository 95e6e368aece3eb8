// Package models содержит структуры данных телеметрии и ответов API
package models

import "time"

// TimestampLayout формат временной метки показания (локальное время, секунды)
const TimestampLayout = "2006-01-02 15:04:05"

// SourceRealSensor значение поля source для данных с реального датчика
const SourceRealSensor = "real_sensor"

// RawFrame представляет одну строку, полученную от платы датчиков
type RawFrame struct {
	ElapsedMs float64
	PM25Raw   float64
	GasRaw    float64
}

// Reading представляет откалиброванное и сглаженное показание.
// Создается один раз на каждый принятый RawFrame и больше не изменяется.
type Reading struct {
	Timestamp   string  `json:"timestamp"`
	PM25        float64 `json:"pm25_ug_m3"`
	GasSmoothed float64 `json:"gas_ppm"`
}

// Time разбирает временную метку показания в локальной зоне
func (r Reading) Time() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, r.Timestamp, time.Local)
}

// SensorDataResponse ответ GET /api/sensor-data
type SensorDataResponse struct {
	PM25          float64 `json:"pm25"`
	MQ135         float64 `json:"mq135"`
	Timestamp     float64 `json:"timestamp"`
	DataTimestamp string  `json:"data_timestamp"`
	Source        string  `json:"source"`
}

// PredictionResponse ответ POST /api/predict
type PredictionResponse struct {
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
}

// ErrorResponse структурированная ошибка, отдается со статусом 200
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse ответ GET /api/sensor-data/history
type HistoryResponse struct {
	Source   string    `json:"source"`
	Count    int       `json:"count"`
	Readings []Reading `json:"readings"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Ingestion string    `json:"ingestion"`
	Redis     string    `json:"redis"`
	Uptime    string    `json:"uptime"`
}

// WindowStats статистика окна сглаживания
type WindowStats struct {
	Size   int       `json:"size"`
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"std_dev"`
	Values []float64 `json:"values"`
}

// StatsResponse содержит статистику сервиса
type StatsResponse struct {
	ReadingsTotal  int64       `json:"readings_total"`
	FramesRejected int64       `json:"frames_rejected"`
	Window         WindowStats `json:"window"`
	GasDivisor     float64     `json:"gas_divisor"`
}
