package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/chiehw/twscreener/internal/analysis/technical"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// PoolRecord is the cross-run membership state for one stock. A removed
// stock keeps its entry with RemovedDate stamped; re-entry clears it and
// restarts the counter.
type PoolRecord struct {
	StockID         string `json:"stock_id"`
	Name            string `json:"stock_name,omitempty"`
	FirstDate       string `json:"first_date"`
	LastDate        string `json:"last_date"`
	ConsecutiveDays int    `json:"consecutive_days"`
	RemovedDate     string `json:"removed_date,omitempty"`
}

// PoolDiff is the day-over-day membership change.
type PoolDiff struct {
	Date      string   `json:"date"`
	New       []string `json:"new"`
	Removed   []string `json:"removed"`
	Continued []string `json:"continued"`
}

// poolState is the persisted shape: the latest member set plus the
// cumulative per-stock history.
type poolState struct {
	Date    string                 `json:"date"`
	Members []string               `json:"members"`
	History map[string]*PoolRecord `json:"history"`
}

// CandleSource returns the last days candles for one stock.
type CandleSource func(ctx context.Context, stockID string, days int) []models.Candle

// PoolTracker maintains the bullish-pool membership across runs.
type PoolTracker struct {
	path    string
	candles CandleSource
	log     *slog.Logger
	state   poolState
}

// NewPoolTracker loads (or initializes) the pool state under
// dir/bullish_pool/history.json.
func NewPoolTracker(dir string, candles CandleSource, log *slog.Logger) (*PoolTracker, error) {
	if log == nil {
		log = slog.Default()
	}
	t := &PoolTracker{
		path:    filepath.Join(dir, "bullish_pool", "history.json"),
		candles: candles,
		log:     log,
		state:   poolState{History: make(map[string]*PoolRecord)},
	}
	if err := loadJSON(t.path, &t.state); err != nil {
		return nil, fmt.Errorf("load pool history: %w", err)
	}
	if t.state.History == nil {
		t.state.History = make(map[string]*PoolRecord)
	}
	return t, nil
}

// Qualifies reports whether the candle history shows the full bullish
// alignment: price above every MA, short MAs stacked over long ones, and
// the 60-day MA higher than it was five days ago.
func Qualifies(candles []models.Candle) bool {
	if len(candles) < 65 {
		return false
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	price := closes[len(closes)-1]

	mas := make([]float64, 0, 4)
	for _, p := range []int{5, 10, 20, 60} {
		ma, ok := technical.SMA(closes, p)
		if !ok || price <= ma {
			return false
		}
		mas = append(mas, ma)
	}
	for i := 1; i < len(mas); i++ {
		if mas[i-1] <= mas[i] {
			return false
		}
	}

	ma60 := technical.SMASeries(closes, 60)
	if len(ma60) < 6 {
		return false
	}
	return ma60[len(ma60)-1] > ma60[len(ma60)-6]
}

// Scan evaluates the candidates, updates membership state and returns
// today's diff. The caller persists via Save once the scan completes.
func (t *PoolTracker) Scan(ctx context.Context, rows []models.Row) (*PoolDiff, error) {
	today := utils.ISODate(utils.NowTaipei())

	members := make([]string, 0)
	names := make(map[string]string, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candles := t.candles(ctx, row.ID, 70)
		if Qualifies(candles) {
			members = append(members, row.ID)
			names[row.ID] = row.Name
		}
	}
	sort.Strings(members)

	diff := t.apply(members, names, today)
	t.log.Info("bullish pool updated",
		"members", len(members), "new", len(diff.New),
		"removed", len(diff.Removed), "continued", len(diff.Continued))
	return diff, nil
}

// apply computes the day-over-day diff and advances the history map.
func (t *PoolTracker) apply(members []string, names map[string]string, today string) *PoolDiff {
	prev := make(map[string]bool, len(t.state.Members))
	for _, id := range t.state.Members {
		prev[id] = true
	}
	cur := make(map[string]bool, len(members))
	for _, id := range members {
		cur[id] = true
	}

	diff := &PoolDiff{Date: today}
	for _, id := range members {
		rec, ok := t.state.History[id]
		switch {
		case !ok || rec.RemovedDate != "" || !prev[id]:
			if !ok {
				rec = &PoolRecord{StockID: id, Name: names[id], FirstDate: today}
				t.state.History[id] = rec
			}
			rec.RemovedDate = ""
			rec.ConsecutiveDays = 1
			rec.LastDate = today
			diff.New = append(diff.New, id)
		case rec.LastDate != today:
			rec.ConsecutiveDays++
			rec.LastDate = today
			diff.Continued = append(diff.Continued, id)
		default:
			// Re-run on the same date; membership unchanged.
			diff.Continued = append(diff.Continued, id)
		}
	}
	for _, id := range t.state.Members {
		if cur[id] {
			continue
		}
		diff.Removed = append(diff.Removed, id)
		if rec, ok := t.state.History[id]; ok {
			rec.RemovedDate = today
		}
	}

	t.state.Date = today
	t.state.Members = members
	return diff
}

// Members returns the current pool membership.
func (t *PoolTracker) Members() []string { return t.state.Members }

// History returns the cumulative per-stock records.
func (t *PoolTracker) History() map[string]*PoolRecord { return t.state.History }

// Save writes the pool state back to disk.
func (t *PoolTracker) Save() error {
	return writeJSON(t.path, t.state)
}
