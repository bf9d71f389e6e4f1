package features

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinFeat/internal/domain/models"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func tableFromCloses(closes ...float64) *Table {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Date: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return NewTable("TEST", bars)
}

func randomWalk(n int, seed int64) *Table {
	r := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 1 + (r.Float64()-0.5)*0.04
		closes[i] = price
	}
	return tableFromCloses(closes...)
}

func mustColumn(t *testing.T, tbl *Table, name string) Series {
	t.Helper()
	s, ok := tbl.Column(name)
	require.Truef(t, ok, "column %s missing", name)
	require.Len(t, s, tbl.Len())
	return s
}

// assertSeries compares cells; NaN in want means null.
func assertSeries(t *testing.T, label string, got Series, want []float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want), label)
	for i, w := range want {
		if math.IsNaN(w) {
			assert.Falsef(t, got[i].Valid, "%s[%d]: want null, got %v", label, i, got[i].Float)
			continue
		}
		if assert.Truef(t, got[i].Valid, "%s[%d]: want %v, got null", label, i, w) {
			assert.InDeltaf(t, w, got[i].Float, tol, "%s[%d]", label, i)
		}
	}
}

var null = math.NaN()
