package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeTarget struct {
	mu       sync.Mutex
	scanned  map[string]int
	failing  map[string]error
	block    chan struct{}
	expired  int32
	inFlight int32
	maxSeen  int32
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{scanned: make(map[string]int), failing: make(map[string]error)}
}

func (f *fakeTarget) Profiles() []string { return []string{"strict", "loose"} }

func (f *fakeTarget) Scan(ctx context.Context, symbol, profile string) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	key := symbol + "/" + profile
	f.mu.Lock()
	f.scanned[key]++
	err := f.failing[key]
	f.mu.Unlock()
	return err
}

func (f *fakeTarget) ExpireSignals(ctx context.Context, now time.Time) int {
	atomic.AddInt32(&f.expired, 1)
	return 0
}

func (f *fakeTarget) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanned[key]
}

func (f *fakeTarget) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.scanned {
		n += v
	}
	return n
}

type countingMetrics struct {
	skipped   int32
	completed int32
	failed    sync.Map
}

func (m *countingMetrics) ScanCompleted(d time.Duration)                              { atomic.AddInt32(&m.completed, 1) }
func (m *countingMetrics) ScanSkipped()                                               { atomic.AddInt32(&m.skipped, 1) }
func (m *countingMetrics) SignalEmitted(profile string, setup domain.SetupType)       {}
func (m *countingMetrics) SignalRejected(profile string, reason domain.ReasonCode)    {}
func (m *countingMetrics) PositionOpened(profile string)                              {}
func (m *countingMetrics) PositionClosed(profile string, o domain.Outcome, p float64) {}
func (m *countingMetrics) SetDegraded(degraded bool)                                  {}
func (m *countingMetrics) SetBalance(profile string, balance float64)                 {}
func (m *countingMetrics) EvaluationFailed(profile string) {
	m.failed.Store(profile, true)
}

func TestScheduler_CycleScansEveryPair(t *testing.T) {
	target := newFakeTarget()
	target.failing["ETHUSDT/strict"] = fmt.Errorf("klines: %w", ports.ErrDataGap)
	target.failing["SOLUSDT/loose"] = errors.New("boom")
	metrics := &countingMetrics{}

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"}
	s := NewScheduler(SchedulerConfig{Symbols: symbols, Concurrency: 3}, target, metrics, nopLogger{})
	s.Cycle(context.Background())

	for _, symbol := range symbols {
		for _, profile := range target.Profiles() {
			assert.Equal(t, 1, target.count(symbol+"/"+profile), "%s/%s", symbol, profile)
		}
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&target.maxSeen), int32(3))
	assert.Equal(t, int32(1), atomic.LoadInt32(&target.expired))
	assert.Equal(t, int32(1), atomic.LoadInt32(&metrics.completed))

	_, strictFailed := metrics.failed.Load("strict")
	_, looseFailed := metrics.failed.Load("loose")
	assert.True(t, strictFailed)
	assert.True(t, looseFailed)
}

func TestScheduler_SkipsTickWhileCycleRuns(t *testing.T) {
	target := newFakeTarget()
	target.block = make(chan struct{})
	metrics := &countingMetrics{}
	s := NewScheduler(SchedulerConfig{Symbols: []string{"BTCUSDT"}, Concurrency: 2}, target, metrics, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ticks)
		close(done)
	}()

	ticks <- time.Now() // starts a cycle that blocks
	ticks <- time.Now() // arrives while it runs
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&metrics.skipped) == 1 }, time.Second, 5*time.Millisecond)

	close(target.block)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&metrics.completed) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !s.running.Load() }, time.Second, 5*time.Millisecond)

	ticks <- time.Now()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&metrics.completed) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, target.total())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "scheduler did not stop")
	}
}
