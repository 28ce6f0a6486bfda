// Package market reads the overall tape: index moving-average posture
// and the foreign-flow sentiment cross-read.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/chiehw/twscreener/internal/analysis/technical"
	"github.com/chiehw/twscreener/pkg/models"
)

// Index proxies: large ETFs tracking each board's index, deep and
// liquid enough to stand in for it.
const (
	twseProxyID = "0050"
	tpexProxyID = "006201"
)

var monitorPeriods = []int{5, 10, 20, 60}

// CandleSource returns the last days daily candles for one instrument.
type CandleSource func(ctx context.Context, stockID string, days int) []models.Candle

// Monitor summarizes the moving-average posture of an index via its ETF
// proxy.
type Monitor struct {
	candles CandleSource
	log     *slog.Logger
}

// NewMonitor creates an index monitor over the given history source.
func NewMonitor(candles CandleSource, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{candles: candles, log: log}
}

// Status computes the MA posture for one board. It needs at least 60
// bars of proxy history.
func (m *Monitor) Status(ctx context.Context, index models.Market) (*models.MarketStatus, error) {
	proxy := twseProxyID
	if index == models.MarketTPEX {
		proxy = tpexProxyID
	}

	candles := m.candles(ctx, proxy, 70)
	if len(candles) < monitorPeriods[len(monitorPeriods)-1] {
		return nil, fmt.Errorf("index proxy %s: %d bars, need %d", proxy, len(candles), monitorPeriods[len(monitorPeriods)-1])
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	current := closes[len(closes)-1]

	status := &models.MarketStatus{
		Index:        index,
		CurrentPrice: current,
		MAValues:     make(map[int]float64, len(monitorPeriods)),
		AboveMA:      make(map[int]bool, len(monitorPeriods)),
	}
	for _, p := range monitorPeriods {
		ma, ok := technical.SMA(closes, p)
		if !ok {
			continue
		}
		status.MAValues[p] = ma
		status.AboveMA[p] = current >= ma
		if !status.AboveMA[p] {
			status.BrokenMA = append(status.BrokenMA, p)
			m.log.Warn("index below moving average",
				"index", index, "period", p,
				"price", current, "ma", fmt.Sprintf("%.2f", ma))
		}
	}
	sort.Ints(status.BrokenMA)

	status.IsBullish = true
	for i := 1; i < len(monitorPeriods); i++ {
		shorter, longer := monitorPeriods[i-1], monitorPeriods[i]
		maS, okS := status.MAValues[shorter]
		maL, okL := status.MAValues[longer]
		if !okS || !okL || maS <= maL {
			status.IsBullish = false
			break
		}
	}
	return status, nil
}
