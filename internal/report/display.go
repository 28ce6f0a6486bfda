package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
)

// Display renders run results to a terminal.
type Display struct {
	out io.Writer
}

// NewDisplay creates a display writing to out.
func NewDisplay(out io.Writer) *Display {
	return &Display{out: out}
}

// Sentiment prints the foreign-flow cross-read.
func (d *Display) Sentiment(s *models.ForeignSentiment) {
	fmt.Fprintf(d.out, "\n外資情緒 [%s] %s\n", s.Label, s.Date)
	fmt.Fprintf(d.out, "  %s\n", s.Detail)
}

// MarketStatus prints the index MA posture for one board.
func (d *Display) MarketStatus(s *models.MarketStatus) {
	mood := "偏多"
	if !s.IsBullish {
		mood = "轉弱"
	}
	fmt.Fprintf(d.out, "\n%s 大盤 %s  現價 %.2f\n", s.Index, mood, s.CurrentPrice)

	periods := make([]int, 0, len(s.MAValues))
	for p := range s.MAValues {
		periods = append(periods, p)
	}
	sort.Ints(periods)
	for _, p := range periods {
		mark := "✓"
		if !s.AboveMA[p] {
			mark = "✗"
		}
		fmt.Fprintf(d.out, "  MA%-3d %10.2f  %s\n", p, s.MAValues[p], mark)
	}
	if len(s.BrokenMA) > 0 {
		fmt.Fprintf(d.out, "  跌破均線: %v\n", s.BrokenMA)
	}
}

// StageStats prints the per-stage funnel of one pipeline run.
func (d *Display) StageStats(name string, stats []models.StageStat) {
	fmt.Fprintf(d.out, "\n篩選流程 %s\n", name)
	w := tabwriter.NewWriter(d.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  step\tstage\tin\tout\tpass")
	for _, s := range stats {
		fmt.Fprintf(w, "  %02d\t%s\t%d\t%d\t%.1f%%\n",
			s.Step, s.Name, s.InputCount, s.OutputCount, s.PassRate())
	}
	w.Flush()
}

// Results prints the surviving rows, capped at limit (0 means all).
func (d *Display) Results(batch *models.Batch, limit int) {
	if batch.Empty() {
		fmt.Fprintln(d.out, "\n今日無符合條件的標的")
		return
	}
	n := batch.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	fmt.Fprintf(d.out, "\n入選 %d 檔 (顯示前 %d)\n", batch.Len(), n)
	w := tabwriter.NewWriter(d.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  rank\tid\tname\tprice\tchg%\tvol(lots)\tindustry")
	for i := 0; i < n; i++ {
		row := &batch.Rows[i]
		fmt.Fprintf(w, "  %d\t%s\t%s\t%.2f\t%+.2f\t%d\t%s\n",
			row.Rank, row.ID, row.Name, row.Price, row.ChangePct, row.Volume, row.Industry)
	}
	w.Flush()
}

// PoolDiff prints today's bullish-pool membership change.
func (d *Display) PoolDiff(diff *tracker.PoolDiff, history map[string]*tracker.PoolRecord) {
	fmt.Fprintf(d.out, "\n多頭池 %s  新進 %d  續留 %d  剔除 %d\n",
		diff.Date, len(diff.New), len(diff.Continued), len(diff.Removed))
	for _, id := range diff.New {
		fmt.Fprintf(d.out, "  + %s %s\n", id, poolName(history, id))
	}
	for _, id := range diff.Continued {
		days := 0
		if rec, ok := history[id]; ok {
			days = rec.ConsecutiveDays
		}
		fmt.Fprintf(d.out, "  = %s %s (%d 日)\n", id, poolName(history, id), days)
	}
	for _, id := range diff.Removed {
		fmt.Fprintf(d.out, "  - %s %s\n", id, poolName(history, id))
	}

	var young, mid, veteran int
	for _, id := range append(append([]string{}, diff.New...), diff.Continued...) {
		rec, ok := history[id]
		if !ok {
			continue
		}
		switch {
		case rec.ConsecutiveDays >= 10:
			veteran++
		case rec.ConsecutiveDays >= 5:
			mid++
		default:
			young++
		}
	}
	fmt.Fprintf(d.out, "  池齡分布: 1-4日 %d  5-9日 %d  10日+ %d\n", young, mid, veteran)
}

func poolName(history map[string]*tracker.PoolRecord, id string) string {
	if rec, ok := history[id]; ok {
		return rec.Name
	}
	return ""
}

// Accumulation prints the institutional scan results.
func (d *Display) Accumulation(analyses []models.AccumulationAnalysis) {
	fmt.Fprintf(d.out, "\n法人籌碼追蹤 (%d 檔)\n", len(analyses))
	w := tabwriter.NewWriter(d.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  id\tbehavior\tbuy-run\tforeign20d\ttrust20d")
	for _, a := range analyses {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%d\n",
			a.StockID, a.BehaviorType, a.MaxConsecutive(), a.Foreign20DSum, a.Trust20DSum)
	}
	w.Flush()
}

// Headlines prints recent market news.
func (d *Display) Headlines(items []models.NewsItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(d.out, "\n市場頭條\n")
	for _, item := range items {
		fmt.Fprintf(d.out, "  [%s] %s\n", item.Source, item.Title)
	}
}
