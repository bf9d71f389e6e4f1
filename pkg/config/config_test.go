package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFeat/internal/services/features"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, []string{"SPY", "QQQ", "AAPL", "MSFT", "TSLA"}, c.Symbols)
	assert.Equal(t, features.DefaultConfig(), c.Pipeline)
	assert.Equal(t, StorageCSV, c.Storage.Bars)
	assert.Equal(t, []string{"csv"}, c.Storage.Sinks)
	assert.Equal(t, 4, c.Batch.Workers)
	assert.False(t, c.UsesClickHouse())

	start, end, err := c.Range()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", start.Format("2006-01-02"))
	assert.Equal(t, "2025-02-09", end.Format("2006-01-02"))
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
symbols: [NVDA]
pipeline:
  ma_windows: [10, 50]
  rsi_window: 7
  rsi_smoothing: wilder
storage:
  bars: clickhouse
  sinks: [csv, xlsx]
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, []string{"NVDA"}, c.Symbols)
	assert.Equal(t, []int{10, 50}, c.Pipeline.MAWindows)
	assert.Equal(t, 7, c.Pipeline.RSIWindow)
	assert.Equal(t, features.SmoothingWilder, c.Pipeline.RSISmoothing)
	assert.Equal(t, 26, c.Pipeline.MACDLongSpan)
	assert.True(t, c.UsesClickHouse())
	assert.True(t, c.HasSink(SinkXLSX))
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad storage":    "storage:\n  bars: parquet\n",
		"bad sink":       "storage:\n  sinks: [pdf]\n",
		"bad window":     "pipeline:\n  rsi_window: -2\n",
		"inverted macd":  "pipeline:\n  macd_short_span: 40\n",
		"inverted dates": "date_range:\n  start: \"2025-01-01\"\n  end: \"2024-01-01\"\n",
		"queue no redis": "queue:\n  enabled: true\n",
		"consumer only":  "kafka:\n  consumer:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("FINFEAT_SYMBOLS", "AAPL,MSFT")
	t.Setenv("FINNHUB_API_KEY", "secret")
	t.Setenv("FINFEAT_STORAGE_BARS", "sqlite")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Symbols)
	assert.Equal(t, "secret", c.Finnhub.APIKey)
	assert.Equal(t, StorageSQLite, c.Storage.Bars)
	assert.Equal(t, "test", c.Environment)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
