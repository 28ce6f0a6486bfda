package screener

import (
	"context"
	"testing"
	"time"

	"github.com/chiehw/twscreener/internal/config"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

func rightParams() config.RightParams {
	return config.RightParams{
		MarketCapMin: 20, MarketCapMax: 50000,
		PriceChangeMin: 3, PriceChangeMax: 10,
		VolumeRatioMin: 1.0,
		ShortMAPeriods: []int{5, 10, 20}, LongMAPeriod: 60,
		IntradayHighThreshold: 0.995,
	}
}

func uptrendCandles(n int, vol int64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		px := 100 + float64(i)
		out[i] = models.Candle{Close: px, Low: px - 1, High: px + 1, Volume: vol}
	}
	return out
}

func TestVolumeRatioSessionAdjustment(t *testing.T) {
	env := testEnv()
	env.History = &fakeHistory{data: map[string][]models.Candle{
		"1101": uptrendCandles(80, 2_000_000), // 5d avg 2000 lots
	}}

	// Half the session elapsed: 135 minutes past the open.
	halfSession := time.Date(2026, 8, 24, 11, 15, 0, 0, utils.Taipei)
	stage := &VolumeRatioStage{
		Env: env, Params: rightParams(),
		Now: func() time.Time { return halfSession },
	}

	// 1500 lots by mid-session projects to a 1.5 ratio.
	row := quoteRow("1101", 180, 175, 1500)
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{row}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Fatal("active row dropped")
	}
	if ratio, _ := out.Rows[0].GetExt("volume_ratio"); ratio < 1.49 || ratio > 1.51 {
		t.Errorf("ratio = %v, want ~1.5", ratio)
	}

	// The same running volume over a full session is only 0.75.
	fullSession := time.Date(2026, 8, 24, 14, 0, 0, 0, utils.Taipei)
	stage.Now = func() time.Time { return fullSession }
	out, err = stage.Apply(context.Background(), models.NewBatch([]models.Row{row}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Error("thin full-session volume must drop")
	}
}

func TestMABullish(t *testing.T) {
	env := testEnv()
	env.History = &fakeHistory{data: map[string][]models.Candle{
		"1101": uptrendCandles(90, 1_000_000),
		"2330": declineCandles(90),
	}}
	stage := &MABullishStage{Env: env, Params: rightParams()}

	up := quoteRow("1101", 190, 185, 100)
	down := quoteRow("2330", 11, 12, 100)
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{up, down}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 || out.Rows[0].ID != "1101" {
		t.Errorf("survivors = %v", out.IDs())
	}
}

func TestMABullishKeepsAlignedStockAfterOneDayDip(t *testing.T) {
	// One bad close inside an intact uptrend; today's price sits above
	// every MA and the MAs stay stacked, so the stage must keep the row.
	candles := uptrendCandles(90, 1_000_000)
	last := &candles[len(candles)-1]
	last.Close *= 0.94

	env := testEnv()
	env.History = &fakeHistory{data: map[string][]models.Candle{"1101": candles}}
	stage := &MABullishStage{Env: env, Params: rightParams()}

	row := quoteRow("1101", 195, 188, 100)
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{row}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Error("aligned stock dropped on a single down close")
	}
}

func TestVolumeHealthExhaustionDrop(t *testing.T) {
	env := testEnv()
	env.History = &fakeHistory{data: map[string][]models.Candle{
		"1101": uptrendCandles(30, 1_000_000),
	}}
	stage := &VolumeHealthStage{Env: env, Params: config.LeftParams{
		VolumeHealthWindow: 20, ExhaustionChangePct: 7,
		HealthyVolumeRatio: 2, TurnoverVolumeRatioMin: 1.5, TurnoverVolumeRatioMax: 3,
	}}

	// Window-max volume on an 8% jump reads as exhaustion.
	blowoff := quoteRow("1101", 140, 129.6, 5000) // 5,000,000 shares, +8%
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{blowoff}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Error("exhaustion bar must drop")
	}

	// New high on average volume reads as healthy.
	quiet := quoteRow("1101", 190, 188, 1500) // 1,500,000 shares, +1%
	out, err = stage.Apply(context.Background(), models.NewBatch([]models.Row{quiet}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Fatal("healthy bar dropped")
	}
	if out.Rows[0].GetTag("volume_health") != "healthy" {
		t.Errorf("class = %s", out.Rows[0].GetTag("volume_health"))
	}
}

func TestVolumeShrinkRun(t *testing.T) {
	candles := uptrendCandles(30, 2_000_000)
	// Volume dries up over the last four bars.
	for i, v := range []int64{1_800_000, 1_500_000, 1_200_000, 900_000} {
		candles[len(candles)-4+i].Volume = v
	}
	env := testEnv()
	env.History = &fakeHistory{data: map[string][]models.Candle{"1101": candles}}
	stage := &VolumeShrinkStage{Env: env, Params: config.LeftParams{
		ShrinkMinRunDays: 3, ShrinkThreshold: 0.7, ShrinkAvgDays: 20,
	}}

	row := quoteRow("1101", 130, 129, 900)
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{row}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Fatal("contracting-volume row dropped")
	}
	if run, _ := out.Rows[0].GetExt("shrink_run"); run < 3 {
		t.Errorf("shrink_run = %v", run)
	}
}

func TestTurnoverRateWithShares(t *testing.T) {
	env := testEnv()
	env.Ref = &fakeRef{shares: map[string]int64{"1101": 100_000_000}}
	stage := &TurnoverStage{Env: env, Params: config.LeftParams{
		TurnoverRateMin: 1, TurnoverRateMax: 20,
	}}

	// 5,000 lots = 5,000,000 shares = 5% turnover.
	active := quoteRow("1101", 40, 39, 5000)
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{active}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Fatal("active row dropped")
	}
	if rate, _ := out.Rows[0].GetExt("turnover_rate"); rate != 5 {
		t.Errorf("turnover = %v, want 5", rate)
	}

	// 500 lots = 0.5%: too sleepy.
	sleepy := quoteRow("1101", 40, 39, 500)
	out, err = stage.Apply(context.Background(), models.NewBatch([]models.Row{sleepy}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Error("thin row must drop")
	}
}

func TestTurnoverRateEstimateFallback(t *testing.T) {
	env := testEnv()
	env.History = &fakeHistory{data: map[string][]models.Candle{
		"1101": uptrendCandles(30, 1_000_000),
	}}
	stage := &TurnoverStage{Env: env, Params: config.LeftParams{
		TurnoverRateMin: 1, TurnoverRateMax: 20,
	}}

	row := quoteRow("1101", 40, 39, 2000) // 2x the 20d average
	out, err := stage.Apply(context.Background(), models.NewBatch([]models.Row{row}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Fatal("estimated row dropped")
	}
	if out.Rows[0].GetTag("turnover") != "estimated" {
		t.Error("estimate tag missing")
	}
	if rate, _ := out.Rows[0].GetExt("turnover_rate"); rate != 2 {
		t.Errorf("estimated rate = %v, want 2", rate)
	}
}

func TestMajorHolderRisingRun(t *testing.T) {
	env := testEnv()
	env.Fundamentals = &fakeFundamentals{holders: map[string][]models.HoldingObservation{
		"1101": {
			{Date: "2026-08-01", MajorPct: 44},
			{Date: "2026-08-08", MajorPct: 45},
			{Date: "2026-08-15", MajorPct: 46},
		},
		"2330": {
			{Date: "2026-08-01", MajorPct: 50},
			{Date: "2026-08-08", MajorPct: 49},
			{Date: "2026-08-15", MajorPct: 49.5},
		},
	}}
	stage := &MajorHolderStage{Env: env, Params: config.LeftParams{
		MajorHolderMinPct: 40, MajorHolderRisingWeeks: 2,
	}}

	batch := models.NewBatch([]models.Row{
		quoteRow("1101", 40, 39, 100),
		quoteRow("2330", 1000, 990, 100),
	})
	out, err := stage.Apply(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 || out.Rows[0].ID != "1101" {
		t.Errorf("survivors = %v", out.IDs())
	}
}

func TestQuietAccumulationStage(t *testing.T) {
	steady := make([]models.InstitutionalFlow, 20)
	for i := range steady {
		steady[i] = models.InstitutionalFlow{Foreign: 100, Total: 100}
	}
	env := testEnv()
	env.Fundamentals = &fakeFundamentals{flows: map[string][]models.InstitutionalFlow{
		"1101": steady,
	}}
	stage := &QuietAccumulationStage{Env: env, Params: config.LeftParams{
		QuietBuyMinDays: 5, QuietBuyMaxStability: 2,
	}}

	batch := models.NewBatch([]models.Row{
		quoteRow("1101", 40, 39, 100),
		quoteRow("2330", 1000, 990, 100), // no flow data: drop
	})
	out, err := stage.Apply(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 || out.Rows[0].ID != "1101" {
		t.Errorf("survivors = %v", out.IDs())
	}
	if days, _ := out.Rows[0].GetExt("consecutive_buy_days"); days != 20 {
		t.Errorf("consecutive days = %v, want 20", days)
	}
}
