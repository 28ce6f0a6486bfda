// Package tracker maintains the cross-run state of the bullish pool and
// the institutional accumulation watch. Both persist JSON under the
// output directory; each file is owned by exactly one scanner.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

const instHistoryCap = 30

// ComputeAccumulation derives the institutional behavior summary from a
// 20-day flow window. flows run oldest first; all quantities are lots.
func ComputeAccumulation(stockID string, flows []models.InstitutionalFlow, minDays int, maxStability float64) models.AccumulationAnalysis {
	a := models.AccumulationAnalysis{StockID: stockID, Days: len(flows)}
	if len(flows) == 0 {
		a.BehaviorType = "no_data"
		return a
	}

	foreign := make([]int64, len(flows))
	trust := make([]int64, len(flows))
	for i, f := range flows {
		foreign[i] = f.Foreign
		trust[i] = f.Trust
	}

	a.ForeignConsecutiveBuy = buyRun(foreign)
	a.TrustConsecutiveBuy = buyRun(trust)

	a.Foreign5DSum = tailSum(foreign, 5)
	a.Foreign10DSum = tailSum(foreign, 10)
	a.Foreign20DSum = tailSum(foreign, 20)
	a.Trust5DSum = tailSum(trust, 5)
	a.Trust10DSum = tailSum(trust, 10)
	a.Trust20DSum = tailSum(trust, 20)

	a.ForeignStability = stability(foreign)
	a.TrustStability = stability(trust)

	a.IsForeignQuietlyBuying = a.ForeignConsecutiveBuy >= minDays &&
		a.ForeignStability < maxStability && a.Foreign20DSum > 0
	a.IsTrustQuietlyBuying = a.TrustConsecutiveBuy >= minDays &&
		a.TrustStability < maxStability && a.Trust20DSum > 0
	a.IsQuietlyBuying = a.IsForeignQuietlyBuying || a.IsTrustQuietlyBuying

	a.BehaviorType = classifyBehavior(a)
	return a
}

// buyRun counts consecutive net-buy days from the latest backward.
func buyRun(nets []int64) int {
	run := 0
	for i := len(nets) - 1; i >= 0; i-- {
		if nets[i] <= 0 {
			break
		}
		run++
	}
	return run
}

func tailSum(nets []int64, n int) int64 {
	if len(nets) > n {
		nets = nets[len(nets)-n:]
	}
	sum := int64(0)
	for _, v := range nets {
		sum += v
	}
	return sum
}

// stability is stddev / |mean+1| of the daily nets. Small values mean a
// steady hand; large values mean bursty in-and-out trading.
func stability(nets []int64) float64 {
	if len(nets) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range nets {
		mean += float64(v)
	}
	mean /= float64(len(nets))

	variance := 0.0
	for _, v := range nets {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(nets))

	return math.Sqrt(variance) / math.Abs(mean+1)
}

func classifyBehavior(a models.AccumulationAnalysis) string {
	total20 := a.Foreign20DSum + a.Trust20DSum
	switch {
	case a.IsForeignQuietlyBuying && a.IsTrustQuietlyBuying:
		return "dual_quiet_accumulation"
	case a.IsQuietlyBuying:
		return "quiet_accumulation"
	case total20 > 0 && a.MaxConsecutive() >= 3:
		return "steady_buying"
	case total20 > 0:
		return "sporadic_buying"
	case total20 < 0:
		return "distribution"
	default:
		return "neutral"
	}
}

// --- Persistence ---

// InstFlowPoint is one persisted day of net flows for a tracked stock.
type InstFlowPoint struct {
	Date    string `json:"date"`
	Foreign int64  `json:"foreign"`
	Trust   int64  `json:"trust"`
	Total   int64  `json:"total"`
}

// InstRecord is the cross-run tracking state for one stock.
type InstRecord struct {
	StockID      string          `json:"stock_id"`
	Name         string          `json:"stock_name,omitempty"`
	FirstTracked string          `json:"first_tracked"`
	TrackingDays int             `json:"tracking_days"`
	LastUpdate   string          `json:"last_update"`
	History      []InstFlowPoint `json:"history"`
}

// InstFlows fetches a 20-day institutional flow window for one stock.
type InstFlows func(ctx context.Context, stockID string, days int) ([]models.InstitutionalFlow, error)

// InstitutionalTracker maintains the accumulation watch state file.
type InstitutionalTracker struct {
	path    string
	fetch   InstFlows
	minDays int
	maxStab float64
	log     *slog.Logger
	records map[string]*InstRecord
}

// NewInstitutionalTracker loads (or initializes) the tracker state under
// dir/institutional_tracker/history.json.
func NewInstitutionalTracker(dir string, fetch InstFlows, minDays int, maxStability float64, log *slog.Logger) (*InstitutionalTracker, error) {
	if log == nil {
		log = slog.Default()
	}
	t := &InstitutionalTracker{
		path:    filepath.Join(dir, "institutional_tracker", "history.json"),
		fetch:   fetch,
		minDays: minDays,
		maxStab: maxStability,
		log:     log,
		records: make(map[string]*InstRecord),
	}
	if err := loadJSON(t.path, &t.records); err != nil {
		return nil, fmt.Errorf("load institutional history: %w", err)
	}
	return t, nil
}

// Scan analyzes each candidate and updates its tracking record. The
// returned analyses keep the input order; stocks whose flows cannot be
// fetched are reported with the no-data behavior.
func (t *InstitutionalTracker) Scan(ctx context.Context, rows []models.Row) []models.AccumulationAnalysis {
	today := utils.ISODate(utils.NowTaipei())
	out := make([]models.AccumulationAnalysis, 0, len(rows))
	for _, row := range rows {
		flows, err := t.fetch(ctx, row.ID, 20)
		if err != nil {
			t.log.Warn("institutional flows unavailable", "stock", row.ID, "err", err)
			out = append(out, models.AccumulationAnalysis{StockID: row.ID, BehaviorType: "no_data"})
			continue
		}
		a := ComputeAccumulation(row.ID, flows, t.minDays, t.maxStab)
		out = append(out, a)
		t.record(row, flows, today)
	}
	return out
}

func (t *InstitutionalTracker) record(row models.Row, flows []models.InstitutionalFlow, today string) {
	rec, ok := t.records[row.ID]
	if !ok {
		rec = &InstRecord{StockID: row.ID, Name: row.Name, FirstTracked: today}
		t.records[row.ID] = rec
	}
	if rec.LastUpdate != today {
		rec.TrackingDays++
		rec.LastUpdate = today
	}
	if len(flows) > 0 {
		latest := flows[len(flows)-1]
		point := InstFlowPoint{
			Date:    latest.Date,
			Foreign: latest.Foreign,
			Trust:   latest.Trust,
			Total:   latest.Total,
		}
		if n := len(rec.History); n == 0 || rec.History[n-1].Date != point.Date {
			rec.History = append(rec.History, point)
		}
		if len(rec.History) > instHistoryCap {
			rec.History = rec.History[len(rec.History)-instHistoryCap:]
		}
	}
}

// Records returns the tracking state keyed by stock id.
func (t *InstitutionalTracker) Records() map[string]*InstRecord { return t.records }

// Save writes the tracker state back to disk.
func (t *InstitutionalTracker) Save() error {
	return writeJSON(t.path, t.records)
}

// --- Shared JSON helpers ---

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
