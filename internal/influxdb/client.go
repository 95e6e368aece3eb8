package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"envira-service/internal/config"
	"envira-service/internal/models"
)

// Measurement имя измерения в InfluxDB
const Measurement = "air_quality"

// Client дублирует показания в InfluxDB v2 для построения графиков
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	config   config.InfluxDBConfig
}

// NewClient создает клиент InfluxDB v2 и проверяет доступность сервера
func NewClient(cfg config.InfluxDBConfig) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		config:   cfg,
	}, nil
}

// Name имя приемника для логов и метрик
func (c *Client) Name() string {
	return "influxdb"
}

// Publish записывает показание точкой со временем самого показания
func (c *Client) Publish(ctx context.Context, reading models.Reading) error {
	return c.writeAPI.WritePoint(ctx, NewPoint(reading))
}

// NewPoint строит точку air_quality для показания
func NewPoint(reading models.Reading) *write.Point {
	ts, err := reading.Time()
	if err != nil {
		ts = time.Now()
	}
	return write.NewPoint(
		Measurement,
		map[string]string{
			"source": models.SourceRealSensor,
		},
		map[string]interface{}{
			"pm25_ug_m3": reading.PM25,
			"gas_ppm":    reading.GasSmoothed,
		},
		ts,
	)
}

// Close закрывает клиент InfluxDB
func (c *Client) Close() {
	c.client.Close()
}
