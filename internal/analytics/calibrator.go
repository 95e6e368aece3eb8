package analytics

import (
	"math"
	"sync"
	"time"

	"envira-service/internal/models"
)

// DefaultGasDivisor калибровочный делитель газового датчика (сырые единицы -> ppm)
const DefaultGasDivisor = 10.0

// Calibrator переводит сырые значения датчиков в отчетные единицы
// и сглаживает газовый канал
type Calibrator struct {
	mu         sync.RWMutex
	window     *SlidingWindow
	gasDivisor float64
	now        func() time.Time
}

// NewCalibrator создает калибратор с окном заданного размера
func NewCalibrator(windowSize int, gasDivisor float64) *Calibrator {
	if gasDivisor <= 0 {
		gasDivisor = DefaultGasDivisor
	}
	return &Calibrator{
		window:     NewSlidingWindow(windowSize),
		gasDivisor: gasDivisor,
		now:        time.Now,
	}
}

// WithClock подменяет источник времени (для тестов)
func (c *Calibrator) WithClock(now func() time.Time) *Calibrator {
	c.now = now
	return c
}

// Calibrate превращает кадр в показание. Всегда успешно для корректного кадра.
func (c *Calibrator) Calibrate(frame models.RawFrame) models.Reading {
	pm25 := math.Max(Round2(frame.PM25Raw), 0)
	gas := math.Max(Round2(frame.GasRaw/c.gasDivisor), 0)

	c.mu.Lock()
	smoothed := c.window.Push(gas)
	c.mu.Unlock()

	return models.Reading{
		Timestamp:   c.now().Format(models.TimestampLayout),
		PM25:        pm25,
		GasSmoothed: smoothed,
	}
}

// GasDivisor возвращает текущий калибровочный делитель
func (c *Calibrator) GasDivisor() float64 {
	return c.gasDivisor
}

// Stats возвращает текущую статистику окна сглаживания
func (c *Calibrator) Stats() models.WindowStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return models.WindowStats{
		Size:   c.window.Size(),
		Count:  c.window.Count(),
		Mean:   Round2(c.window.Mean()),
		StdDev: Round2(c.window.StdDev()),
		Values: c.window.Values(),
	}
}
