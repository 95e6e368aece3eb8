// Package ingest реализует цикл приема телеметрии: порт -> разбор -> калибровка ->
// журнал -> внешние приемники. Кадры обрабатываются строго по порядку одной горутиной.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"envira-service/internal/analytics"
	"envira-service/internal/metrics"
	"envira-service/internal/models"
	"envira-service/internal/parser"
	"envira-service/internal/serial"
)

// State состояние соединения с платой
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReading
	StateStopped
)

// String имя состояния для /health и логов
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReading:
		return "reading"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Appender журнал показаний с единственным писателем
type Appender interface {
	Append(r models.Reading) error
}

// Sink внешний приемник показаний. Ошибки приемника не влияют на журнал.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r models.Reading) error
}

// Config параметры цикла приема
type Config struct {
	Device         string
	BaudRate       int
	ReadTimeout    time.Duration
	SettleDelay    time.Duration // пауза после открытия порта, плата перезагружается
	SampleInterval time.Duration // пауза после каждого записанного показания
	Reconnect      ReconnectConfig
}

// Loop владеет портом, окном сглаживания и правом записи в журнал
type Loop struct {
	cfg        Config
	open       serial.Opener
	calibrator *analytics.Calibrator
	log        Appender
	sinks      []Sink
	onReject   func(ctx context.Context)
	logger     *slog.Logger

	state atomic.Int32

	portMu sync.Mutex
	port   serial.Port
	reader *serial.LineReader
}

// NewLoop создает цикл приема
func NewLoop(cfg Config, open serial.Opener, calibrator *analytics.Calibrator, log Appender, logger *slog.Logger, sinks ...Sink) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Reconnect = cfg.Reconnect.withDefaults()
	return &Loop{
		cfg:        cfg,
		open:       open,
		calibrator: calibrator,
		log:        log,
		sinks:      sinks,
		logger:     logger.With("component", "ingest", "device", cfg.Device),
	}
}

// OnReject регистрирует обработчик отброшенных строк (например, счетчик в Redis)
func (l *Loop) OnReject(fn func(ctx context.Context)) {
	l.onReject = fn
}

// State возвращает текущее состояние соединения
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	if s == StateReading {
		metrics.SerialConnected.Set(1)
	} else {
		metrics.SerialConnected.Set(0)
	}
}

// Connect выполняет первое подключение. Ошибка здесь фатальна:
// отсутствие устройства при старте - ошибка оператора, повторов нет.
func (l *Loop) Connect(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		return fmt.Errorf("serial device unavailable: %w", err)
	}
	return nil
}

func (l *Loop) connect(ctx context.Context) error {
	l.setState(StateConnecting)

	port, err := l.open(l.cfg.Device, l.cfg.BaudRate, l.cfg.ReadTimeout)
	if err != nil {
		l.setState(StateDisconnected)
		return err
	}

	l.portMu.Lock()
	l.port = port
	l.reader = serial.NewLineReader(port)
	l.portMu.Unlock()

	if err := sleepCtx(ctx, l.cfg.SettleDelay); err != nil {
		l.closePort()
		return err
	}

	l.setState(StateReading)
	l.logger.Info("sensor board connected", "baud", l.cfg.BaudRate)
	return nil
}

func (l *Loop) closePort() {
	l.portMu.Lock()
	defer l.portMu.Unlock()

	if l.port == nil {
		return
	}
	if err := l.port.Close(); err != nil {
		l.logger.Debug("serial close failed", "error", err)
	}
	l.port = nil
}

func (l *Loop) lineReader() *serial.LineReader {
	l.portMu.Lock()
	defer l.portMu.Unlock()
	return l.reader
}

// Run читает порт до отмены контекста. Connect должен быть вызван заранее.
// Возвращает nil при штатной остановке и ошибку, если исчерпаны переподключения.
func (l *Loop) Run(ctx context.Context) error {
	if l.lineReader() == nil {
		return errors.New("ingest: Run called before Connect")
	}
	defer l.setState(StateStopped)
	defer l.closePort()

	// Закрытие порта прерывает блокирующее чтение при остановке
	stop := context.AfterFunc(ctx, l.closePort)
	defer stop()

	for {
		if ctx.Err() != nil {
			l.logger.Info("ingestion stopped")
			return nil
		}

		line, err := l.lineReader().ReadLine()
		switch {
		case err == nil:
		case errors.Is(err, serial.ErrReadTimeout):
			continue
		case errors.Is(err, serial.ErrLineTooLong):
			metrics.FramesTotal.WithLabelValues(metrics.FrameTooLong).Inc()
			l.logger.Warn("discarded oversized serial line", "limit", serial.MaxLineLength)
			continue
		default:
			if ctx.Err() != nil {
				continue
			}
			l.logger.Warn("serial connection lost", "error", err)
			if err := l.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
			continue
		}

		if _, ok := l.ProcessLine(ctx, line); !ok {
			continue
		}

		if err := sleepCtx(ctx, l.cfg.SampleInterval); err != nil {
			continue
		}
	}
}

// ProcessLine проводит одну строку через разбор, калибровку, журнал и приемники.
// Возвращает false, если строка отброшена или запись не удалась.
func (l *Loop) ProcessLine(ctx context.Context, line string) (models.Reading, bool) {
	start := time.Now()

	frame, err := parser.Parse(line)
	if err != nil {
		if parser.IsNoise(err) {
			metrics.FramesTotal.WithLabelValues(metrics.FrameNoise).Inc()
			l.logger.Debug("skipped non-data line", "line", line)
		} else {
			metrics.FramesTotal.WithLabelValues(metrics.FrameMalformed).Inc()
			l.logger.Warn("parse error", "error", err, "line", line)
		}
		if l.onReject != nil {
			l.onReject(ctx)
		}
		return models.Reading{}, false
	}
	metrics.FramesTotal.WithLabelValues(metrics.FrameAccepted).Inc()

	reading := l.calibrator.Calibrate(frame)

	if err := l.log.Append(reading); err != nil {
		metrics.AppendErrors.Inc()
		l.logger.Error("failed to append reading", "error", err)
		return models.Reading{}, false
	}
	metrics.ObserveReading(reading.PM25, reading.GasSmoothed)
	metrics.IngestLatency.Observe(time.Since(start).Seconds())

	l.logger.Info("reading logged",
		"timestamp", reading.Timestamp,
		"pm25_ug_m3", reading.PM25,
		"gas_ppm", reading.GasSmoothed,
	)

	for _, s := range l.sinks {
		if err := s.Publish(ctx, reading); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			l.logger.Warn("sink publish failed", "sink", s.Name(), "error", err)
		}
	}

	return reading, true
}

// sleepCtx ждет d или отмены контекста
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
