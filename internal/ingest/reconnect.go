package ingest

import (
	"context"
	"fmt"
	"time"

	"envira-service/internal/metrics"
)

// ReconnectConfig параметры переподключения с экспоненциальной паузой
type ReconnectConfig struct {
	MaxRetries    int           // предел попыток, 0 - без ограничения
	RetryDelay    time.Duration // первая пауза
	MaxRetryDelay time.Duration // потолок паузы
}

// DefaultReconnectConfig параметры по умолчанию: 1s, удвоение, потолок 30s, без предела попыток
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// withDefaults заполняет незаданные паузы значениями по умолчанию
func (c ReconnectConfig) withDefaults() ReconnectConfig {
	def := DefaultReconnectConfig()
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	return c
}

// reconnect переводит цикл в Disconnected и переподключается с экспоненциальной паузой.
// Окно сглаживания между подключениями сохраняется.
func (l *Loop) reconnect(ctx context.Context) error {
	l.closePort()
	l.setState(StateDisconnected)

	cfg := l.cfg.Reconnect
	for attempt := 1; ; attempt++ {
		if cfg.MaxRetries > 0 && attempt > cfg.MaxRetries {
			return fmt.Errorf("serial: max reconnects exceeded (%d attempts)", cfg.MaxRetries)
		}

		delay := calculateBackoff(attempt, cfg)
		l.logger.Warn("retrying serial connection",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}

		metrics.SerialReconnects.Inc()
		err := l.connect(ctx)
		if err == nil {
			l.logger.Info("serial connection re-established", "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Error("serial reconnection failed", "attempt", attempt, "error", err)
	}
}

// calculateBackoff пауза перед попыткой attempt: retryDelay * 2^(attempt-1), не больше maxRetryDelay
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	base := cfg.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := cfg.MaxRetryDelay
	if maxDelay < base {
		maxDelay = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}
