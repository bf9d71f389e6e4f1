package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinFeat/internal/domain/models"
	drepo "FinFeat/internal/domain/repository"
	"FinFeat/internal/services/features"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func walkBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	price := 100.0
	for i := range bars {
		if i%3 == 0 {
			price *= 0.99
		} else {
			price *= 1.015
		}
		bars[i] = models.Bar{Date: day0.AddDate(0, 0, i), Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1000}
	}
	return bars
}

type memBars struct {
	mu    sync.Mutex
	data  map[string][]models.Bar
	loads int
	saved map[string][]models.Bar
	err   error
}

func newMemBars() *memBars {
	return &memBars{data: map[string][]models.Bar{}, saved: map[string][]models.Bar{}}
}

func (m *memBars) LoadBars(_ context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	bars, ok := m.data[symbol]
	if !ok {
		return nil, drepo.ErrSymbolNotFound
	}
	var out []models.Bar
	for _, b := range bars {
		if models.InRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBars) SaveBars(_ context.Context, symbol string, bars []models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved[symbol] = bars
	return nil
}

func (m *memBars) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

type recordingSink struct {
	mu     sync.Mutex
	name   string
	tables []*features.Table
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) WriteFeatures(_ context.Context, t *features.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tables = append(s.tables, t)
	return nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	symbols []string
}

func (p *recordingPublisher) PublishFeatures(_ context.Context, t *features.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols = append(p.symbols, t.Symbol)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.RunEvent
}

func (n *recordingNotifier) NotifyRun(_ context.Context, ev models.RunEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) statuses() []models.RunStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.RunStatus, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Status
	}
	return out
}

type countingMetrics struct {
	mu     sync.Mutex
	runs   map[models.RunStatus]int
	errors map[string]int
	rows   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{runs: map[models.RunStatus]int{}, errors: map[string]int{}, rows: map[string]int{}}
}

func (m *countingMetrics) RecordRun(_ string, status models.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
}

func (m *countingMetrics) RecordRows(symbol string, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[symbol] = rows
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *countingMetrics) RecordLastClose(string, float64) {}
func (m *countingMetrics) RecordLatency(string, float64)   {}

type fakeProvider struct {
	bars map[string][]models.Bar
}

func (f *fakeProvider) FetchDailyBars(_ context.Context, symbol string, _, _ time.Time) ([]models.Bar, error) {
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, drepo.ErrSymbolNotFound
	}
	return bars, nil
}

type requestRecorder struct {
	mu   sync.Mutex
	reqs []models.BuildRequest
	err  error
}

func (r *requestRecorder) Process(_ context.Context, req models.BuildRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.err
}

var errBoom = errors.New("boom")
