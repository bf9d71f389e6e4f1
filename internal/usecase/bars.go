package usecase

import (
	"context"
	"time"

	"FinFeat/internal/domain/models"
	drepo "FinFeat/internal/domain/repository"
)

// BarsUseCase serves raw bars to the API.
type BarsUseCase struct {
	source drepo.BarSource
}

func NewBarsUseCase(source drepo.BarSource) *BarsUseCase {
	return &BarsUseCase{source: source}
}

// GetBars returns at most limit bars from [from, to), keeping the most recent.
func (u *BarsUseCase) GetBars(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Bar, error) {
	bars, err := u.source.LoadBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
