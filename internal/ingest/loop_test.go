package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envira-service/internal/analytics"
	"envira-service/internal/models"
	"envira-service/internal/serial"
	"envira-service/internal/storage"
)

var errUnplugged = errors.New("device unplugged")

// fakePort replays scripted chunks. When the script is exhausted it either
// reports a disconnect or behaves like an idle device (read timeout).
type fakePort struct {
	mu         sync.Mutex
	chunks     []string
	disconnect bool
	closed     bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.chunks) == 0 {
		disconnect := p.disconnect
		p.mu.Unlock()
		if disconnect {
			return 0, errUnplugged
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	opens int
}

func (o *fakeOpener) open(string, int, time.Duration) (serial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if len(o.ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type recordingSink struct {
	mu       sync.Mutex
	readings []models.Reading
	err      error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, r models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return s.err
}

type failingAppender struct{}

func (failingAppender) Append(models.Reading) error { return errors.New("disk full") }

func testConfig() Config {
	return Config{
		Device:         "/dev/fake",
		BaudRate:       115200,
		SampleInterval: time.Millisecond,
		Reconnect: ReconnectConfig{
			RetryDelay:    time.Millisecond,
			MaxRetryDelay: 4 * time.Millisecond,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(t *testing.T, cfg Config, opener *fakeOpener, sinks ...Sink) (*Loop, *storage.CSVLog) {
	t.Helper()
	log, err := storage.Open(filepath.Join(t.TempDir(), "sensor_data.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	calibrator := analytics.NewCalibrator(analytics.WindowSize, analytics.DefaultGasDivisor)
	return NewLoop(cfg, opener.open, calibrator, log, discardLogger(), sinks...), log
}

func TestProcessLine_EndToEnd(t *testing.T) {
	loop, log := newTestLoop(t, testConfig(), &fakeOpener{})

	reading, ok := loop.ProcessLine(context.Background(), "1000.0,12.34,45.6")
	require.True(t, ok)
	assert.Equal(t, 12.34, reading.PM25)
	assert.Equal(t, 4.56, reading.GasSmoothed)

	last, err := log.ReadLast()
	require.NoError(t, err)
	assert.Equal(t, reading, last)
}

func TestProcessLine_GarbageLeavesStateUntouched(t *testing.T) {
	loop, log := newTestLoop(t, testConfig(), &fakeOpener{})

	rejected := 0
	loop.OnReject(func(context.Context) { rejected++ })

	first, ok := loop.ProcessLine(context.Background(), "1000.0,12.34,45.6")
	require.True(t, ok)
	statsBefore := loop.calibrator.Stats()

	for _, line := range []string{"garbage", "", "1000,abc,1", "1,2"} {
		_, ok := loop.ProcessLine(context.Background(), line)
		assert.False(t, ok, "line %q", line)
	}

	assert.Equal(t, 4, rejected)
	assert.Equal(t, statsBefore, loop.calibrator.Stats())

	last, err := log.ReadLast()
	require.NoError(t, err)
	assert.Equal(t, first, last)
}

func TestProcessLine_AppendFailureIsContained(t *testing.T) {
	sink := &recordingSink{}
	calibrator := analytics.NewCalibrator(analytics.WindowSize, analytics.DefaultGasDivisor)
	loop := NewLoop(testConfig(), (&fakeOpener{}).open, calibrator, failingAppender{}, discardLogger(), sink)

	_, ok := loop.ProcessLine(context.Background(), "1,2,3")
	assert.False(t, ok)
	assert.Empty(t, sink.readings)
}

func TestProcessLine_SinkFailureDoesNotAffectLog(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	loop, log := newTestLoop(t, testConfig(), &fakeOpener{}, sink)

	reading, ok := loop.ProcessLine(context.Background(), "1,2,30")
	require.True(t, ok)
	assert.Len(t, sink.readings, 1)

	last, err := log.ReadLast()
	require.NoError(t, err)
	assert.Equal(t, reading, last)
}

func TestConnect_FailureIsFatal(t *testing.T) {
	loop, _ := newTestLoop(t, testConfig(), &fakeOpener{})

	err := loop.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial device unavailable")
	assert.Equal(t, StateDisconnected, loop.State())
}

func TestRun_BeforeConnect(t *testing.T) {
	loop, _ := newTestLoop(t, testConfig(), &fakeOpener{})
	assert.Error(t, loop.Run(context.Background()))
}

func TestRun_ProcessesInOrderAndStopsOnCancel(t *testing.T) {
	port := &fakePort{chunks: []string{
		"Sensor warming up\n",
		"1000,10,10\n2000,20,20\n",
		"bad,line\n",
		"3000,30,30\n",
	}}
	opener := &fakeOpener{ports: []*fakePort{port}}
	sink := &recordingSink{}
	loop, log := newTestLoop(t, testConfig(), opener, sink)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Connect(ctx))
	assert.Equal(t, StateReading, loop.State())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.readings) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.True(t, port.isClosed())
	assert.Equal(t, StateStopped, loop.State())

	// Gas values 1, 2, 3 ppm smoothed in arrival order
	assert.Equal(t, []float64{1, 1.5, 2}, []float64{
		sink.readings[0].GasSmoothed,
		sink.readings[1].GasSmoothed,
		sink.readings[2].GasSmoothed,
	})

	last, err := log.ReadLast()
	require.NoError(t, err)
	assert.Equal(t, 30.0, last.PM25)
}

func TestRun_ReconnectsAndKeepsWindow(t *testing.T) {
	first := &fakePort{chunks: []string{"1000,1,10\n"}, disconnect: true}
	second := &fakePort{chunks: []string{"2000,2,30\n"}}
	opener := &fakeOpener{ports: []*fakePort{first, second}}
	sink := &recordingSink{}
	loop, _ := newTestLoop(t, testConfig(), opener, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loop.Connect(ctx))

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.readings) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.True(t, first.isClosed())
	assert.Equal(t, 2, opener.openCount())
	// (1 + 3) / 2: the window survived the reconnect
	assert.Equal(t, 2.0, sink.readings[1].GasSmoothed)
}

func TestRun_GivesUpAfterMaxReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxRetries = 3

	opener := &fakeOpener{ports: []*fakePort{{disconnect: true}}}
	loop, _ := newTestLoop(t, cfg, opener)

	require.NoError(t, loop.Connect(context.Background()))

	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max reconnects exceeded")
	assert.Equal(t, 1+3, opener.openCount())
}

func TestCalculateBackoff(t *testing.T) {
	cfg := ReconnectConfig{RetryDelay: time.Second, MaxRetryDelay: 30 * time.Second}

	assert.Equal(t, 1*time.Second, calculateBackoff(1, cfg))
	assert.Equal(t, 2*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 16*time.Second, calculateBackoff(5, cfg))
	assert.Equal(t, 30*time.Second, calculateBackoff(6, cfg))
	assert.Equal(t, 30*time.Second, calculateBackoff(200, cfg))
}

func TestNewLoop_FillsReconnectDefaults(t *testing.T) {
	l := NewLoop(Config{Device: "/dev/fake"}, (&fakeOpener{}).open, nil, failingAppender{}, discardLogger())
	assert.Equal(t, DefaultReconnectConfig(), l.cfg.Reconnect)

	l = NewLoop(Config{Reconnect: ReconnectConfig{MaxRetries: 3, RetryDelay: 5 * time.Second}},
		(&fakeOpener{}).open, nil, failingAppender{}, discardLogger())
	assert.Equal(t, 3, l.cfg.Reconnect.MaxRetries)
	assert.Equal(t, 5*time.Second, l.cfg.Reconnect.RetryDelay)
	assert.Equal(t, 30*time.Second, l.cfg.Reconnect.MaxRetryDelay)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reading", StateReading.String())
	assert.Equal(t, "unknown", State(42).String())
}
