package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFeat/internal/domain/models"
)

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{errors: map[string]int{}} }

func (m *countingMetrics) RecordRun(string, models.RunStatus) {}
func (m *countingMetrics) RecordRows(string, int)             {}
func (m *countingMetrics) RecordLastClose(string, float64)    {}
func (m *countingMetrics) RecordLatency(string, float64)      {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type scriptedProc struct {
	mu    sync.Mutex
	calls []models.BuildRequest
	fail  int // fail this many calls before succeeding
}

func (p *scriptedProc) Process(_ context.Context, req models.BuildRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.fail > 0 {
		p.fail--
		return errors.New("downstream unavailable")
	}
	return nil
}

func (p *scriptedProc) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestRebuildThrottleValidates(t *testing.T) {
	m := newCountingMetrics()
	th := NewRebuildThrottle(&scriptedProc{}, m)

	err := th.Process(context.Background(), models.BuildRequest{Symbols: []string{" ", ""}})
	require.Error(t, err)
	assert.Equal(t, 1, m.count("rebuild_validate"))

	err = th.Process(context.Background(), models.BuildRequest{Symbols: []string{"SPY"}, From: "2024/01/01"})
	assert.Error(t, err)
}

func TestRebuildThrottleDebouncesPerSymbol(t *testing.T) {
	proc := &scriptedProc{}
	m := newCountingMetrics()
	th := NewRebuildThrottle(proc, m, WithDebounce(time.Minute))
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"spy", "QQQ"}}))
	now = now.Add(10 * time.Second)
	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"SPY", "AAPL"}}))
	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"QQQ"}}))
	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"QQQ"}, Refresh: true}))
	now = now.Add(time.Minute)
	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"SPY"}}))

	require.Len(t, proc.calls, 4)
	assert.Equal(t, []string{"SPY", "QQQ"}, proc.calls[0].Symbols)
	assert.Equal(t, []string{"AAPL"}, proc.calls[1].Symbols)
	assert.Equal(t, []string{"QQQ"}, proc.calls[2].Symbols)
	assert.True(t, proc.calls[2].Refresh)
	assert.Equal(t, []string{"SPY"}, proc.calls[3].Symbols)
	assert.Equal(t, 1, m.count("rebuild_debounced"))
}

func TestRebuildThrottleRetriesParkedRequests(t *testing.T) {
	proc := &scriptedProc{fail: 2}
	m := newCountingMetrics()
	th := NewRebuildThrottle(proc, m, WithDebounce(0), WithRetryBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Stop()

	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"TSLA"}}))
	require.Eventually(t, func() bool { return proc.callCount() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, th.Pending())
	assert.Equal(t, 1, m.count("rebuild_process"))
	assert.Equal(t, 1, m.count("rebuild_retry"))
}

func TestRebuildThrottleBufferFull(t *testing.T) {
	proc := &scriptedProc{fail: 10}
	th := NewRebuildThrottle(proc, newCountingMetrics(), WithDebounce(0), WithBufferSize(1))
	ctx := context.Background()

	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"A"}}))
	err := th.Process(ctx, models.BuildRequest{Symbols: []string{"B"}})
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 1, th.Pending())
}

func TestRebuildThrottleDropsAfterMaxAttempts(t *testing.T) {
	proc := &scriptedProc{fail: 100}
	m := newCountingMetrics()
	th := NewRebuildThrottle(proc, m, WithDebounce(0), WithMaxAttempts(2), WithRetryBackoff(time.Millisecond, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Stop()

	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"MSFT"}}))
	require.Eventually(t, func() bool { return m.count("rebuild_dropped") == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, proc.callCount())
}

func TestRebuildThrottleRestarts(t *testing.T) {
	proc := &scriptedProc{fail: 1}
	th := NewRebuildThrottle(proc, newCountingMetrics(), WithDebounce(0), WithRetryBackoff(time.Millisecond, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	th.Stop()
	th.Start(ctx)
	th.Stop()
	th.Start(ctx)
	defer th.Stop()

	require.NoError(t, th.Process(ctx, models.BuildRequest{Symbols: []string{"QQQ"}}))
	require.Eventually(t, func() bool { return proc.callCount() == 2 }, 2*time.Second, time.Millisecond)

	th.Stop()
	th.Stop()
}
