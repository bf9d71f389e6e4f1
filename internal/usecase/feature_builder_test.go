package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFeat/internal/domain/models"
	drepo "FinFeat/internal/domain/repository"
	"FinFeat/internal/services/features"
	"FinFeat/pkg/cache"
)

func newTestBuilder(t *testing.T, bars *memBars, opts ...BuilderOption) *FeatureBuilder {
	t.Helper()
	p, err := features.NewPipeline(features.DefaultConfig())
	require.NoError(t, err)
	return NewFeatureBuilder(bars, p, newCountingMetrics(), opts...)
}

func TestFeatureBuilderBuildsAndFansOut(t *testing.T) {
	bars := newMemBars()
	bars.data["SPY"] = walkBars(60)
	sink := &recordingSink{name: "csv"}
	pub := &recordingPublisher{}
	notes := &recordingNotifier{}
	m := newCountingMetrics()
	p, err := features.NewPipeline(features.DefaultConfig())
	require.NoError(t, err)

	var stages []string
	b := NewFeatureBuilder(bars, p, m,
		WithSinks(sink),
		WithPublisher(pub),
		WithNotifier(notes),
		WithStageObserver(func(stage string, _ time.Duration, err error) {
			assert.NoError(t, err)
			stages = append(stages, stage)
		}),
	)

	res, err := b.Build(context.Background(), BuildParams{Symbol: " spy ", From: day0.AddDate(0, 0, 10)})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 50, res.Table.Len())
	assert.Equal(t, "SPY", res.Table.Symbol)
	assert.Equal(t, p.Stages(), stages)

	require.Len(t, sink.tables, 1)
	assert.Same(t, res.Table, sink.tables[0])
	assert.Equal(t, []string{"SPY"}, pub.symbols)
	assert.Equal(t, []models.RunStatus{models.RunStarted, models.RunSucceeded}, notes.statuses())
	assert.Equal(t, 50, notes.events[1].Rows)
	assert.Equal(t, "2024-01-12", notes.events[1].From)
	assert.Equal(t, "open", notes.events[1].To)
	assert.Equal(t, 1, m.runs[models.RunSucceeded])
	assert.Equal(t, 50, m.rows["SPY"])
}

func TestFeatureBuilderServesFromCache(t *testing.T) {
	bars := newMemBars()
	bars.data["QQQ"] = walkBars(40)
	mem := cache.NewMemoryCache()
	defer mem.Close()
	notes := &recordingNotifier{}
	b := newTestBuilder(t, bars, WithCache(mem, time.Minute), WithNotifier(notes))
	ctx := context.Background()

	first, err := b.Build(ctx, BuildParams{Symbol: "QQQ"})
	require.NoError(t, err)
	second, err := b.Build(ctx, BuildParams{Symbol: "QQQ"})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, 1, bars.loadCount())
	assert.Equal(t, first.Table.Columns(), second.Table.Columns())
	assert.Equal(t, first.Table.Dates(), second.Table.Dates())
	ma1, _ := first.Table.Column("MA_5")
	ma2, ok := second.Table.Column("MA_5")
	require.True(t, ok)
	assert.Equal(t, ma1, ma2)

	third, err := b.Build(ctx, BuildParams{Symbol: "QQQ", Refresh: true})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, bars.loadCount())
	assert.Contains(t, notes.statuses(), models.RunCached)
}

func TestFeatureBuilderInvalidateDropsSymbolOnly(t *testing.T) {
	bars := newMemBars()
	bars.data["SPY"] = walkBars(30)
	bars.data["QQQ"] = walkBars(30)
	mem := cache.NewMemoryCache()
	defer mem.Close()
	b := newTestBuilder(t, bars, WithCache(mem, time.Minute))
	ctx := context.Background()

	for _, sym := range []string{"SPY", "QQQ"} {
		_, err := b.Build(ctx, BuildParams{Symbol: sym})
		require.NoError(t, err)
		_, err = b.Build(ctx, BuildParams{Symbol: sym, From: day0.AddDate(0, 0, 5)})
		require.NoError(t, err)
	}
	require.Equal(t, 4, mem.Len())

	require.NoError(t, b.Invalidate(ctx, "spy"))
	assert.Equal(t, 2, mem.Len())

	res, err := b.Build(ctx, BuildParams{Symbol: "QQQ"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	res, err = b.Build(ctx, BuildParams{Symbol: "SPY"})
	require.NoError(t, err)
	assert.False(t, res.Cached)

	assert.NoError(t, newTestBuilder(t, bars).Invalidate(ctx, "SPY"))
}

func TestFeatureBuilderCacheKeyTracksRangeAndConfig(t *testing.T) {
	b := newTestBuilder(t, newMemBars())
	open := b.CacheKey(BuildParams{Symbol: "SPY"})
	bounded := b.CacheKey(BuildParams{Symbol: "SPY", From: day0, To: day0.AddDate(0, 1, 0)})

	assert.Contains(t, open, "SPY")
	assert.Contains(t, open, "open")
	assert.Contains(t, open, b.Pipeline().Fingerprint())
	assert.Contains(t, bounded, "2024-01-02")
	assert.NotEqual(t, open, bounded)
}

func TestFeatureBuilderFailures(t *testing.T) {
	bars := newMemBars()
	bars.data["BAD"] = []models.Bar{
		{Date: day0.AddDate(0, 0, 1), Close: 10},
		{Date: day0, Close: 11},
	}
	bars.data["OK"] = walkBars(30)
	notes := &recordingNotifier{}
	sink := &recordingSink{name: "xlsx", err: errBoom}
	b := newTestBuilder(t, bars, WithNotifier(notes), WithSinks(sink))
	ctx := context.Background()

	_, err := b.Build(ctx, BuildParams{Symbol: "MISSING"})
	assert.ErrorIs(t, err, drepo.ErrSymbolNotFound)

	_, err = b.Build(ctx, BuildParams{Symbol: "BAD"})
	assert.ErrorIs(t, err, features.ErrUnsortedDates)

	_, err = b.Build(ctx, BuildParams{Symbol: "OK"})
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorContains(t, err, "sink xlsx")

	_, err = b.Build(ctx, BuildParams{Symbol: ""})
	assert.Error(t, err)
	_, err = b.Build(ctx, BuildParams{Symbol: "OK", From: day0, To: day0})
	assert.Error(t, err)

	last := notes.events[len(notes.events)-1]
	assert.Equal(t, models.RunFailed, last.Status)
	assert.NotEmpty(t, last.Error)
}

// gatedBars blocks the first load until released and honours its ctx.
type gatedBars struct {
	*memBars
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBars) LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.memBars.LoadBars(ctx, symbol, from, to)
}

func TestFeatureBuilderSharedBuildSurvivesCallerCancel(t *testing.T) {
	mem := newMemBars()
	mem.data["AAPL"] = walkBars(40)
	bars := &gatedBars{memBars: mem, entered: make(chan struct{}), release: make(chan struct{})}
	p, err := features.NewPipeline(features.DefaultConfig())
	require.NoError(t, err)
	b := NewFeatureBuilder(bars, p, newCountingMetrics())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := b.Build(ctxA, BuildParams{Symbol: "AAPL"})
		errA <- err
	}()
	<-bars.entered

	type outcome struct {
		res *BuildResult
		err error
	}
	resB := make(chan outcome, 1)
	go func() {
		res, err := b.Build(context.Background(), BuildParams{Symbol: "AAPL"})
		resB <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(bars.release)
	select {
	case got := <-resB:
		require.NoError(t, got.err)
		assert.Equal(t, 40, got.res.Table.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not finish")
	}
	assert.Equal(t, 1, mem.loadCount())
}

func TestFeatureBuilderTimeoutBoundsSharedBuild(t *testing.T) {
	mem := newMemBars()
	mem.data["AAPL"] = walkBars(40)
	bars := &gatedBars{memBars: mem, entered: make(chan struct{}), release: make(chan struct{})}
	p, err := features.NewPipeline(features.DefaultConfig())
	require.NoError(t, err)
	b := NewFeatureBuilder(bars, p, newCountingMetrics(), WithBuildTimeout(30*time.Millisecond))

	_, err = b.Build(context.Background(), BuildParams{Symbol: "AAPL"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
