package screener

import (
	"context"
	"sort"
	"time"

	"github.com/chiehw/twscreener/internal/analysis/technical"
	"github.com/chiehw/twscreener/internal/config"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// --- PriceChange ---

// PriceChangeStage keeps rows whose percent change sits in [min, max]:
// moving, but not already limit-up.
type PriceChangeStage struct {
	Min, Max float64
}

func (s *PriceChangeStage) Name() string { return "price_change" }

func (s *PriceChangeStage) Apply(_ context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		return row.ChangePct >= s.Min && row.ChangePct <= s.Max
	}), nil
}

// --- VolumeRatio ---

// VolumeRatioStage compares today's running volume against the 5-day
// average scaled by how much of the session has elapsed, so early-session
// volume is not penalized.
type VolumeRatioStage struct {
	Env    *Env
	Params config.RightParams

	// Now is overridable for tests; defaults to the Taipei clock.
	Now func() time.Time
}

func (s *VolumeRatioStage) Name() string { return "volume_ratio" }

func (s *VolumeRatioStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	now := utils.NowTaipei()
	if s.Now != nil {
		now = s.Now()
	}
	fraction := utils.SessionFraction(now)

	s.Env.History.Prefetch(ctx, batch.IDs(), rightHistoryDays(s.Params))
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, rightHistoryDays(s.Params))
		if len(candles) < 5 {
			return false
		}
		vols := make([]int64, len(candles))
		for i, c := range candles {
			vols[i] = c.Volume
		}
		avgShares, ok := technical.AvgVolume(vols, 5)
		if !ok || avgShares <= 0 {
			return false
		}
		avgLots := avgShares / 1000

		ratio := float64(row.Volume) / (avgLots * fraction)
		row.SetExt("volume_ratio", ratio)
		return ratio > s.Params.VolumeRatioMin
	}), nil
}

// rightHistoryDays covers the longest MA the momentum chain computes.
func rightHistoryDays(p config.RightParams) int {
	days := p.LongMAPeriod + 15
	if days < 75 {
		days = 75
	}
	return days
}

// --- MovingAverage bullish ---

// MABullishStage requires full bullish alignment: price over every MA,
// short MAs stacked over long ones, and a 60-day MA that is still
// climbing.
type MABullishStage struct {
	Env    *Env
	Params config.RightParams
}

func (s *MABullishStage) Name() string { return "ma_bullish" }

func (s *MABullishStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, rightHistoryDays(s.Params))
		if len(candles) < s.Params.LongMAPeriod+10 {
			return false
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		price := row.Price

		periods := append([]int{}, s.Params.ShortMAPeriods...)
		periods = append(periods, s.Params.LongMAPeriod)
		prev := price
		for _, p := range periods {
			ma, ok := technical.SMA(closes, p)
			if !ok || prev <= ma {
				return false
			}
			prev = ma
		}

		ma60 := technical.SMASeries(closes, s.Params.LongMAPeriod)
		return technical.SlopeUp(ma60, 5, 10, 0)
	}), nil
}

// --- RelativeStrength ---

// RelativeStrengthStage keeps stocks outrunning the benchmark index,
// or simply advancing when the index table is unavailable.
type RelativeStrengthStage struct {
	Env *Env
}

func (s *RelativeStrengthStage) Name() string { return "relative_strength" }

func (s *RelativeStrengthStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	benchmark, ok := 0.0, false
	if s.Env.Benchmark != nil {
		benchmark, ok = s.Env.Benchmark(ctx)
	}
	if !ok {
		s.Env.logger().Warn("benchmark unavailable, requiring positive change")
	}
	return filterRows(batch, func(row *models.Row) bool {
		if ok {
			return row.ChangePct > benchmark
		}
		return row.ChangePct > 0
	}), nil
}

// --- IntradayHigh ---

// IntradayHighStage keeps stocks trading at (or within a whisker of)
// their session high, above the open.
type IntradayHighStage struct {
	Threshold float64
}

func (s *IntradayHighStage) Name() string { return "intraday_high" }

func (s *IntradayHighStage) Apply(_ context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		if row.High <= 0 {
			return false
		}
		return row.Price >= s.Threshold*row.High && row.Price > row.Open
	}), nil
}

// --- Ranking ---

// RankByChange orders the batch by percent change, strongest first, and
// assigns ranks 1..N. Equal changes keep their input order.
func RankByChange(batch *models.Batch) {
	sort.SliceStable(batch.Rows, func(i, j int) bool {
		return batch.Rows[i].ChangePct > batch.Rows[j].ChangePct
	})
	for i := range batch.Rows {
		batch.Rows[i].Rank = i + 1
	}
}
