package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envira-service/internal/models"
)

func TestSlidingWindow_Add(t *testing.T) {
	sw := NewSlidingWindow(5)

	// Add values
	values := []float64{10, 20, 30, 40, 50}
	for _, v := range values {
		sw.Add(v)
	}

	if sw.Count() != 5 {
		t.Errorf("Expected count 5, got %d", sw.Count())
	}

	expectedMean := 30.0
	if math.Abs(sw.Mean()-expectedMean) > 0.001 {
		t.Errorf("Expected mean %.2f, got %.2f", expectedMean, sw.Mean())
	}
}

func TestSlidingWindow_RollingBehavior(t *testing.T) {
	sw := NewSlidingWindow(3)

	// Fill window
	sw.Add(10)
	sw.Add(20)
	sw.Add(30)

	// Mean should be 20
	if math.Abs(sw.Mean()-20.0) > 0.001 {
		t.Errorf("Expected mean 20, got %.2f", sw.Mean())
	}

	// Add another value, should push out 10
	sw.Add(40)

	// New mean should be (20+30+40)/3 = 30
	if math.Abs(sw.Mean()-30.0) > 0.001 {
		t.Errorf("Expected mean 30, got %.2f", sw.Mean())
	}
	assert.Equal(t, []float64{20, 30, 40}, sw.Values())
}

func TestSlidingWindow_PushColdStart(t *testing.T) {
	sw := NewSlidingWindow(WindowSize)

	// Before the window is full the average covers what is held so far
	assert.Equal(t, 4.56, sw.Push(4.56))
	assert.Equal(t, 5.28, sw.Push(6.0))
	assert.Equal(t, 2, sw.Count())
}

func TestSlidingWindow_PushEvictsOldest(t *testing.T) {
	sw := NewSlidingWindow(WindowSize)
	values := []float64{1.11, 2.22, 3.33, 4.44, 5.55, 9.99}

	var avg float64
	for _, v := range values[:5] {
		avg = sw.Push(v)
	}
	assert.Equal(t, Round2((1.11+2.22+3.33+4.44+5.55)/5), avg)

	avg = sw.Push(values[5])
	assert.Equal(t, Round2((2.22+3.33+4.44+5.55+9.99)/5), avg)
	assert.Equal(t, WindowSize, sw.Count())
	assert.Equal(t, values[1:], sw.Values())
}

func TestSlidingWindow_LongStreamStaysBounded(t *testing.T) {
	sw := NewSlidingWindow(WindowSize)
	for i := 0; i < 10000; i++ {
		sw.Push(float64(i % 7))
	}
	assert.Equal(t, WindowSize, sw.Count())
	assert.Len(t, sw.Values(), WindowSize)
}

func TestSlidingWindow_StdDev(t *testing.T) {
	sw := NewSlidingWindow(5)

	// Add same value - stddev should be 0
	for i := 0; i < 5; i++ {
		sw.Add(50)
	}

	if sw.StdDev() != 0 {
		t.Errorf("Expected stddev 0 for identical values, got %.2f", sw.StdDev())
	}

	sw2 := NewSlidingWindow(5)
	for _, v := range []float64{2, 4, 4, 4, 5} {
		sw2.Add(v)
	}

	// Sample stddev for [2,4,4,4,5] is sqrt(5.2/4)
	assert.InDelta(t, math.Sqrt(1.3), sw2.StdDev(), 1e-9)
}

func TestCalibrator_PM25Clamping(t *testing.T) {
	c := NewCalibrator(WindowSize, DefaultGasDivisor)

	tests := []struct {
		raw  float64
		want float64
	}{
		{-5, 0},
		{-0.001, 0},
		{0, 0},
		{12.345678, 12.35},
		{12.34, 12.34},
	}

	for _, tt := range tests {
		r := c.Calibrate(models.RawFrame{PM25Raw: tt.raw, GasRaw: 10})
		assert.Equal(t, tt.want, r.PM25, "raw %v", tt.raw)
		assert.False(t, math.Signbit(r.PM25), "raw %v yields negative zero", tt.raw)
	}
}

func TestRound2_UsesExactDecimalValue(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{2.675, 2.67}, // 2.67499999999999982236431605997495353221893310546875
		{1.005, 1},    // 1.00499999999999989341858963598497211933135986328125
		{0.125, 0.12}, // exact tie, rounds to even
		{0.375, 0.38}, // exact tie, rounds to even
		{12.345678, 12.35},
		{-1.234, -1.23},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Round2(tt.in), "in %v", tt.in)
	}
}

func TestCalibrator_RoundsLikePersistedText(t *testing.T) {
	c := NewCalibrator(WindowSize, DefaultGasDivisor)

	r := c.Calibrate(models.RawFrame{PM25Raw: 2.675, GasRaw: 26.75})
	assert.Equal(t, 2.67, r.PM25)
	assert.Equal(t, Round2(26.75/DefaultGasDivisor), r.GasSmoothed)
}

func TestCalibrator_GasScalingAndSmoothing(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)
	c := NewCalibrator(WindowSize, DefaultGasDivisor).WithClock(func() time.Time { return fixed })

	r := c.Calibrate(models.RawFrame{ElapsedMs: 1000, PM25Raw: 12.34, GasRaw: 45.6})
	assert.Equal(t, 12.34, r.PM25)
	assert.Equal(t, 4.56, r.GasSmoothed)
	assert.Equal(t, "2026-03-14 09:26:53", r.Timestamp)

	// Negative raw gas is clamped to zero before it enters the window
	r = c.Calibrate(models.RawFrame{PM25Raw: 1, GasRaw: -100})
	assert.Equal(t, Round2(4.56/2), r.GasSmoothed)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, []float64{4.56, 0}, stats.Values)
}

func TestCalibrator_CustomDivisor(t *testing.T) {
	c := NewCalibrator(WindowSize, 4)
	r := c.Calibrate(models.RawFrame{GasRaw: 10})
	require.Equal(t, 4.0, c.GasDivisor())
	assert.Equal(t, 2.5, r.GasSmoothed)
}

func TestCalibrator_InvalidDivisorFallsBack(t *testing.T) {
	c := NewCalibrator(0, 0)
	assert.Equal(t, DefaultGasDivisor, c.GasDivisor())
	assert.Equal(t, WindowSize, c.Stats().Size)
}

func BenchmarkCalibrate(b *testing.B) {
	c := NewCalibrator(WindowSize, DefaultGasDivisor)
	frame := models.RawFrame{ElapsedMs: 1000, PM25Raw: 12.34, GasRaw: 45.6}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Calibrate(frame)
	}
}

func BenchmarkSlidingWindowPush(b *testing.B) {
	sw := NewSlidingWindow(WindowSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sw.Push(float64(i % 100))
	}
}
