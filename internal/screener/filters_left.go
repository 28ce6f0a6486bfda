package screener

import (
	"context"
	"errors"

	"github.com/chiehw/twscreener/internal/analysis/technical"
	"github.com/chiehw/twscreener/internal/config"
	"github.com/chiehw/twscreener/internal/datasource"
	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
)

const tagInsufficientData = "insufficient-data"

// --- MarketCap (shared by both chains) ---

// MarketCapStage keeps rows whose capitalization sits inside [min, max]
// hundred-millions. Rows without capitalization data fall back to a
// traded-value proxy instead of being dropped.
type MarketCapStage struct {
	Env      *Env
	Min, Max float64
}

func (s *MarketCapStage) Name() string { return "market_cap" }

func (s *MarketCapStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	caps := s.Env.Ref.MarketCaps(ctx)
	return filterRows(batch, func(row *models.Row) bool {
		if mc, ok := caps[row.ID]; ok {
			row.SetExt("market_cap", mc)
			return mc >= s.Min && mc <= s.Max
		}
		// Proxy: traded value in lots x price, scaled to the same order
		// as the cap threshold. Only the lower bound applies.
		row.SetTag("market_cap", "proxy")
		proxy := float64(row.Volume) * row.Price * 0.1
		return proxy >= s.Min*0.1
	}), nil
}

// --- RevenueGrowth ---

// RevenueGrowthStage requires the latest monthly revenue to grow
// year-over-year and the growth streak to reach the configured length.
// Stocks without revenue data pass through tagged.
type RevenueGrowthStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *RevenueGrowthStage) Name() string { return "revenue_growth" }

func (s *RevenueGrowthStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		months := s.Params.RevenueGrowthMonths
		if months < 1 {
			months = 1
		}
		revs, err := s.Env.Fundamentals.MonthlyRevenue(ctx, row.ID, months+1)
		if err != nil || len(revs) == 0 {
			row.SetTag("revenue", tagInsufficientData)
			return true
		}

		latest := revs[len(revs)-1]
		row.SetExt("revenue_yoy", latest.YoYGrowth)
		if latest.YoYGrowth < s.Params.RevenueGrowthMin {
			return false
		}
		streak := 0
		for i := len(revs) - 1; i >= 0; i-- {
			if revs[i].YoYGrowth <= 0 {
				break
			}
			streak++
		}
		return streak >= months
	}), nil
}

// --- PERatio ---

// PERatioStage computes a trailing P/E from the last four reported
// quarters. Losing companies are dropped; missing statements pass
// through tagged.
type PERatioStage struct {
	Env   *Env
	PEMax float64
}

func (s *PERatioStage) Name() string { return "pe_ratio" }

func (s *PERatioStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		quarters, err := s.Env.Fundamentals.QuarterlyEPS(ctx, row.ID, 4)
		if err != nil || len(quarters) == 0 {
			row.SetTag("pe", tagInsufficientData)
			return true
		}
		eps := 0.0
		for _, q := range quarters {
			eps += q.EPS
		}
		if eps <= 0 {
			return false
		}
		pe := row.Price / eps
		row.SetExt("pe_ratio", pe)
		return pe > 0 && pe <= s.PEMax
	}), nil
}

// --- HigherLows ---

// HigherLowsStage requires a rising sequence of local lows inside the
// lookback window. No usable history drops the row.
type HigherLowsStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *HigherLowsStage) Name() string { return "higher_lows" }

func (s *HigherLowsStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	s.Env.History.Prefetch(ctx, batch.IDs(), historyDays(s.Params))
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, historyDays(s.Params))
		if len(candles) < s.Params.HigherLowsLookback/2 {
			return false
		}
		lows := make([]float64, len(candles))
		for i, c := range candles {
			lows[i] = c.Low
		}
		return technical.HigherLows(lows,
			s.Params.HigherLowsLookback,
			s.Params.HigherLowsMinCount,
			s.Params.HigherLowsTolerance)
	}), nil
}

// historyDays is the deepest window any left-chain stage needs; one
// fetch per stock serves the whole chain through the history memo.
func historyDays(p config.LeftParams) int {
	days := 70
	if p.HigherLowsLookback > days {
		days = p.HigherLowsLookback
	}
	return days
}

// --- Pullback ---

// PullbackStage keeps stocks resting between their short and long MAs
// after a measured drop from the rolling high, with the supporting long
// MA still rising.
type PullbackStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *PullbackStage) Name() string { return "pullback" }

func (s *PullbackStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, historyDays(s.Params))
		if len(candles) < 60 {
			return false
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		price := row.Price

		belowShort := false
		for _, p := range []int{5, 10} {
			if ma, ok := technical.SMA(closes, p); ok && price < ma {
				belowShort = true
				break
			}
		}
		if !belowShort {
			return false
		}

		support := 0
		for _, p := range []int{20, 60} {
			ma, ok := technical.SMA(closes, p)
			if !ok || price <= ma {
				continue
			}
			series := technical.SMASeries(closes, p)
			if technical.SlopeUp(series, s.Params.PullbackSlopeLookback, s.Params.PullbackSlopeLookback, s.Params.PullbackTolerance) {
				support = p
				break
			}
		}
		if support == 0 {
			return false
		}

		pullback, ok := technical.PullbackPct(closes, s.Params.PullbackWindow)
		if !ok || pullback < s.Params.PullbackMinPct || pullback > s.Params.PullbackMaxPct {
			return false
		}
		row.SetExt("pullback_pct", pullback)
		row.SetTag("support_ma", maTag(support))
		return true
	}), nil
}

func maTag(period int) string {
	switch period {
	case 5:
		return "MA5"
	case 10:
		return "MA10"
	case 20:
		return "MA20"
	case 60:
		return "MA60"
	}
	return ""
}

// --- VolumePriceHealth ---

// VolumeHealthStage classifies today's bar and keeps only healthy
// advances and orderly turnover. Exhaustion bars (window-max volume on
// an outsized jump) are dropped.
type VolumeHealthStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *VolumeHealthStage) Name() string { return "volume_price_health" }

func (s *VolumeHealthStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, historyDays(s.Params))
		window := s.Params.VolumeHealthWindow
		if len(candles) < window {
			return false
		}
		recent := candles[len(candles)-window:]

		todayShares := row.Volume * 1000
		maxVol, maxClose := int64(0), 0.0
		sumVol := int64(0)
		for _, c := range recent {
			if c.Volume > maxVol {
				maxVol = c.Volume
			}
			if c.Close > maxClose {
				maxClose = c.Close
			}
			sumVol += c.Volume
		}
		avgVol := float64(sumVol) / float64(window)

		var class string
		switch {
		case todayShares >= maxVol && row.ChangePct >= s.Params.ExhaustionChangePct:
			class = "exhaustion"
		case row.Price >= maxClose && float64(todayShares) <= s.Params.HealthyVolumeRatio*avgVol:
			class = "healthy"
		case float64(todayShares) >= s.Params.TurnoverVolumeRatioMin*avgVol &&
			float64(todayShares) <= s.Params.TurnoverVolumeRatioMax*avgVol:
			class = "turnover"
		default:
			class = "other"
		}
		row.SetTag("volume_health", class)
		return class == "healthy" || class == "turnover"
	}), nil
}

// --- VolumeShrink ---

// VolumeShrinkStage keeps stocks whose volume has been drying up: a
// contracting run long enough, or today's volume well under the recent
// average.
type VolumeShrinkStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *VolumeShrinkStage) Name() string { return "volume_shrink" }

func (s *VolumeShrinkStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, historyDays(s.Params))
		if len(candles) < s.Params.ShrinkAvgDays {
			return false
		}
		vols := make([]int64, len(candles))
		for i, c := range candles {
			vols[i] = c.Volume
		}

		run := technical.ShrinkRun(vols, 1.05)
		if run >= s.Params.ShrinkMinRunDays {
			row.SetExt("shrink_run", float64(run))
			return true
		}
		avg, ok := technical.AvgVolume(vols, s.Params.ShrinkAvgDays)
		if !ok {
			return false
		}
		todayShares := float64(row.Volume * 1000)
		return todayShares < s.Params.ShrinkThreshold*avg
	}), nil
}

// --- RSIOversold ---

// RSIStage keeps oversold stocks, optionally requiring the RSI to have
// turned up today and the price to sit above the 5-day MA.
type RSIStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *RSIStage) Name() string { return "rsi_oversold" }

func (s *RSIStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		candles := s.Env.History.History(ctx, row.ID, historyDays(s.Params))
		if len(candles) <= s.Params.RSIPeriod+1 {
			return false
		}
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}

		series := technical.RSISeries(closes, s.Params.RSIPeriod)
		if len(series) < 2 {
			return false
		}
		today := series[len(series)-1]
		row.SetExt("rsi", today)
		if today > s.Params.RSIOversold {
			return false
		}
		if s.Params.RSIRequireUpturn && today <= series[len(series)-2] {
			return false
		}
		if s.Params.RSIRequireAboveMA {
			if ma5, ok := technical.SMA(closes, 5); !ok || row.Price <= ma5 {
				return false
			}
		}
		return true
	}), nil
}

// --- TurnoverRate ---

// TurnoverStage computes the day's turnover as a percentage of shares
// outstanding; without share data it degrades to a volume-ratio
// estimate capped at the stage maximum.
type TurnoverStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *TurnoverStage) Name() string { return "turnover_rate" }

func (s *TurnoverStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	shares := s.Env.Ref.SharesOutstanding(ctx)
	return filterRows(batch, func(row *models.Row) bool {
		todayShares := float64(row.Volume * 1000)
		var rate float64
		if issued, ok := shares[row.ID]; ok && issued > 0 {
			rate = todayShares / float64(issued) * 100
		} else {
			candles := s.Env.History.History(ctx, row.ID, historyDays(s.Params))
			vols := make([]int64, len(candles))
			for i, c := range candles {
				vols[i] = c.Volume
			}
			avg, ok := technical.AvgVolume(vols, 20)
			if !ok || avg <= 0 {
				return false
			}
			rate = todayShares / avg
			if rate > s.Params.TurnoverRateMax {
				rate = s.Params.TurnoverRateMax
			}
			row.SetTag("turnover", "estimated")
		}
		row.SetExt("turnover_rate", rate)
		return rate >= s.Params.TurnoverRateMin && rate <= s.Params.TurnoverRateMax
	}), nil
}

// --- MajorHolder ---

// MajorHolderStage requires the large-holder percentage to be high
// enough and strictly rising over recent weekly observations. Missing
// distribution data passes through tagged.
type MajorHolderStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *MajorHolderStage) Name() string { return "major_holder" }

func (s *MajorHolderStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		obs, err := s.Env.Fundamentals.MajorHolderSeries(ctx, row.ID, s.Params.MajorHolderRisingWeeks+4)
		if err != nil || len(obs) == 0 {
			row.SetTag("major_holder", tagInsufficientData)
			return true
		}
		latest := obs[len(obs)-1].MajorPct
		row.SetExt("major_holder_pct", latest)
		if latest < s.Params.MajorHolderMinPct {
			return false
		}
		rising := 0
		for i := len(obs) - 1; i > 0; i-- {
			if obs[i].MajorPct <= obs[i-1].MajorPct {
				break
			}
			rising++
		}
		return rising >= s.Params.MajorHolderRisingWeeks
	}), nil
}

// --- QuietAccumulation ---

// QuietAccumulationStage keeps stocks where foreign or trust money has
// been buying steadily without volume fireworks.
type QuietAccumulationStage struct {
	Env    *Env
	Params config.LeftParams
}

func (s *QuietAccumulationStage) Name() string { return "quiet_accumulation" }

func (s *QuietAccumulationStage) Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	return filterRows(batch, func(row *models.Row) bool {
		flows, err := s.Env.Fundamentals.InstitutionalFlows(ctx, row.ID, 20)
		if err != nil {
			if errors.Is(err, datasource.ErrNoData) {
				return false
			}
			s.Env.logger().Warn("institutional flows unavailable", "stock", row.ID, "err", err)
			return false
		}
		a := tracker.ComputeAccumulation(row.ID, flows, s.Params.QuietBuyMinDays, s.Params.QuietBuyMaxStability)
		if !a.IsQuietlyBuying {
			return false
		}
		row.SetExt("consecutive_buy_days", float64(a.MaxConsecutive()))
		row.SetExt("foreign_20d_sum", float64(a.Foreign20DSum))
		row.SetExt("trust_20d_sum", float64(a.Trust20DSum))
		row.SetTag("behavior", a.BehaviorType)
		return true
	}), nil
}
