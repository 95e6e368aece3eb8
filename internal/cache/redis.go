// Package cache реализует кэширование показаний в Redis
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"envira-service/internal/models"
)

const (
	// LatestReadingKey ключ последнего показания
	LatestReadingKey = "reading:latest"
	// RecentReadingsKey список последних показаний, новые в начале
	RecentReadingsKey = "readings:recent"
	// ReadingsTotalKey счетчик записанных показаний
	ReadingsTotalKey = "readings:total"
	// FramesRejectedKey счетчик отброшенных строк
	FramesRejectedKey = "frames:rejected"
	// MaxRecentReadings сколько показаний хранится в списке
	MaxRecentReadings = 1000
	// ReadingTTL время жизни последнего показания
	ReadingTTL = 1 * time.Hour
)

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Name имя приемника для логов и метрик
func (r *RedisCache) Name() string {
	return "redis"
}

// Publish сохраняет показание как последнее и добавляет его в список
func (r *RedisCache) Publish(ctx context.Context, reading models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, LatestReadingKey, data, ReadingTTL)
	pipe.LPush(ctx, RecentReadingsKey, data)
	pipe.LTrim(ctx, RecentReadingsKey, 0, MaxRecentReadings-1)
	pipe.Incr(ctx, ReadingsTotalKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache reading: %w", err)
	}
	return nil
}

// GetLatestReadings возвращает последние N показаний, от новых к старым
func (r *RedisCache) GetLatestReadings(ctx context.Context, count int64) ([]models.Reading, error) {
	data, err := r.client.LRange(ctx, RecentReadingsKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest readings: %w", err)
	}

	readings := make([]models.Reading, 0, len(data))
	for _, d := range data {
		var m models.Reading
		if err := json.Unmarshal([]byte(d), &m); err != nil {
			continue
		}
		readings = append(readings, m)
	}

	return readings, nil
}

// IncrementCounter увеличивает счетчик
func (r *RedisCache) IncrementCounter(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
