package repository

import (
	"context"
	"errors"
	"time"

	"FinFeat/internal/domain/models"
	"FinFeat/internal/services/features"
)

// ErrSymbolNotFound is returned by bar sources that hold no data for a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// BarSource loads daily bars for [from, to). Zero bounds are open. Bars are
// returned in ascending date order.
type BarSource interface {
	LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
}

// BarSink persists daily bars, replacing existing sessions with the same date.
type BarSink interface {
	SaveBars(ctx context.Context, symbol string, bars []models.Bar) error
}

type BarStore interface {
	BarSource
	BarSink
	Close() error
}

// FeatureSink persists a feature table.
type FeatureSink interface {
	Name() string
	WriteFeatures(ctx context.Context, t *features.Table) error
}

// FeaturePublisher streams feature rows to downstream consumers.
type FeaturePublisher interface {
	PublishFeatures(ctx context.Context, t *features.Table) error
}

// MarketData is the external provider of raw daily bars.
type MarketData interface {
	FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
}

// RunNotifier receives feature build lifecycle events.
type RunNotifier interface {
	NotifyRun(ctx context.Context, ev models.RunEvent)
}

type Metrics interface {
	RecordRun(symbol string, status models.RunStatus)
	RecordRows(symbol string, rows int)
	RecordError(kind string)
	RecordLastClose(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
