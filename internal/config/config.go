package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config конфигурация сервиса
type Config struct {
	Server    ServerConfig
	Serial    SerialConfig
	Ingest    IngestConfig
	Redis     RedisConfig
	InfluxDB  InfluxDBConfig
	Inference InferenceConfig
	LogLevel  slog.Level
}

// ServerConfig параметры HTTP сервера
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
}

// SerialConfig параметры подключения к плате датчиков
type SerialConfig struct {
	Device            string
	BaudRate          int
	ReadTimeout       time.Duration
	SettleDelay       time.Duration
	MaxReconnects     int // 0 - переподключаться без ограничения
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

// IngestConfig параметры цикла приема
type IngestConfig struct {
	LogPath        string
	SampleInterval time.Duration
	WindowSize     int
	GasDivisor     float64
}

// RedisConfig параметры Redis; пустой Addr отключает кэш
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// InfluxDBConfig параметры InfluxDB; пустой URL отключает приемник
type InfluxDBConfig struct {
	URL    string
	Org    string
	Token  string
	Bucket string
}

// InferenceConfig параметры классификации снимков
type InferenceConfig struct {
	URL        string
	Timeout    time.Duration
	LabelsPath string
	Attempts   int
}

// Load загружает конфигурацию из переменных окружения со значениями по умолчанию
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:           getEnv("SERVER_ADDR", ":8000"),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Serial: SerialConfig{
			Device:            getEnv("SERIAL_DEVICE", "/dev/ttyACM0"),
			BaudRate:          getEnvInt("SERIAL_BAUD", 115200),
			ReadTimeout:       getEnvDuration("SERIAL_READ_TIMEOUT", 1*time.Second),
			SettleDelay:       getEnvDuration("SERIAL_SETTLE_DELAY", 2*time.Second),
			MaxReconnects:     getEnvInt("SERIAL_MAX_RECONNECTS", 0),
			ReconnectDelay:    getEnvDuration("SERIAL_RECONNECT_DELAY", 1*time.Second),
			ReconnectMaxDelay: getEnvDuration("SERIAL_RECONNECT_MAX_DELAY", 30*time.Second),
		},
		Ingest: IngestConfig{
			LogPath:        getEnv("LOG_PATH", "sensor_data.csv"),
			SampleInterval: getEnvDuration("SAMPLE_INTERVAL", 5*time.Second),
			WindowSize:     getEnvInt("SMOOTHING_WINDOW", 5),
			GasDivisor:     getEnvFloat("GAS_DIVISOR", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		InfluxDB: InfluxDBConfig{
			URL:    getEnv("INFLUXDB_URL", ""),
			Org:    getEnv("INFLUXDB_ORG", "envira"),
			Token:  getEnv("INFLUXDB_TOKEN", ""),
			Bucket: getEnv("INFLUXDB_BUCKET", "air-quality"),
		},
		Inference: InferenceConfig{
			URL:        getEnv("INFERENCE_URL", "http://localhost:8500"),
			Timeout:    getEnvDuration("INFERENCE_TIMEOUT", 10*time.Second),
			LabelsPath: getEnv("LABELS_PATH", ""),
			Attempts:   getEnvInt("INFERENCE_STARTUP_ATTEMPTS", 5),
		},
		LogLevel: getEnvLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию и возвращает все найденные ошибки разом
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Device == "" {
		errs = append(errs, errors.New("SERIAL_DEVICE is required"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("SERIAL_BAUD must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.MaxReconnects < 0 {
		errs = append(errs, fmt.Errorf("SERIAL_MAX_RECONNECTS cannot be negative, got %d", c.Serial.MaxReconnects))
	}
	if c.Serial.ReconnectDelay <= 0 || c.Serial.ReconnectMaxDelay < c.Serial.ReconnectDelay {
		errs = append(errs, errors.New("SERIAL_RECONNECT_MAX_DELAY must be >= SERIAL_RECONNECT_DELAY > 0"))
	}
	if c.Ingest.LogPath == "" {
		errs = append(errs, errors.New("LOG_PATH is required"))
	}
	if c.Ingest.SampleInterval < 0 {
		errs = append(errs, errors.New("SAMPLE_INTERVAL cannot be negative"))
	}
	if c.Ingest.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("SMOOTHING_WINDOW must be positive, got %d", c.Ingest.WindowSize))
	}
	if c.Ingest.GasDivisor <= 0 {
		errs = append(errs, fmt.Errorf("GAS_DIVISOR must be positive, got %v", c.Ingest.GasDivisor))
	}
	if c.Inference.URL == "" {
		errs = append(errs, errors.New("INFERENCE_URL is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Вспомогательные функции чтения переменных окружения
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvLevel(key string, defaultValue slog.Level) slog.Level {
	if value, exists := os.LookupEnv(key); exists {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err == nil {
			return level
		}
	}
	return defaultValue
}
