// Package orchestrator sequences one screening run: the session gate,
// the market reads, the chosen strategy chain and the result dispatch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chiehw/twscreener/internal/config"
	"github.com/chiehw/twscreener/internal/datasource"
	"github.com/chiehw/twscreener/internal/infra"
	"github.com/chiehw/twscreener/internal/market"
	"github.com/chiehw/twscreener/internal/report"
	"github.com/chiehw/twscreener/internal/screener"
	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// ErrOutsideWindow marks a run skipped by the session gate. The CLI
// treats it as a clean exit, not a failure.
var ErrOutsideWindow = errors.New("outside the screening window")

// Options selects what one invocation runs.
type Options struct {
	Mode     string // "left" or "right"
	Force    bool   // bypass the session gate
	Pool     bool   // run the bullish-pool scan after screening
	PoolOnly bool   // refresh the pool without screening
	Inst     bool   // run the accumulation scan after screening
	InstOnly bool   // refresh tracked stocks without screening
}

// Orchestrator wires the data layer, the strategy chains and the
// reporting sinks for one process lifetime.
type Orchestrator struct {
	cfg      *config.Config
	data     *datasource.Service
	exporter *report.Exporter
	display  *report.Display
	notifier *report.Notifier
	cache    *infra.Cache
	log      *slog.Logger

	now      func() time.Time
	snapshot func(ctx context.Context) ([]models.Row, error)
	candles  tracker.CandleSource
	flows    tracker.InstFlows
}

// New assembles an orchestrator from configuration.
func New(cfg *config.Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		data:     datasource.NewService(cfg, log),
		exporter: report.NewExporter(cfg.Data.OutputDir),
		display:  report.NewDisplay(os.Stdout),
		notifier: report.NewNotifier(cfg.Notify.WebhookURL, log),
		cache:    infra.NewCache(5 * time.Minute),
		log:      log,
		now:      utils.NowTaipei,
	}
	o.snapshot = o.data.Quotes.Snapshot
	o.candles = o.data.History.History
	o.flows = o.data.FinMind.InstitutionalFlows
	return o
}

// Run executes one invocation per the options.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	if !opts.Force {
		if err := o.gate(); err != nil {
			return err
		}
	}
	if err := o.exporter.PurgeOld(o.cfg.Data.RetentionDays); err != nil {
		o.log.Warn("output purge failed", "err", err)
	}
	o.data.Reset()
	o.cache.Flush()

	// The scanners always see the full realtime universe, not just the
	// screening survivors; a stock can enter the pool or the watch list
	// without passing today's chain.
	if opts.PoolOnly || opts.InstOnly {
		rows, err := o.universe(ctx)
		if err != nil {
			return err
		}
		if opts.PoolOnly {
			return o.runPool(ctx, rows)
		}
		return o.runInstitutional(ctx, rows)
	}

	sentiment := o.analyzeSentiment(ctx)
	o.display.Sentiment(sentiment)
	o.showMarketStatus(ctx)
	o.display.Headlines(o.data.News.Headlines(ctx, o.cfg.News.MaxItems))

	rows, err := o.universe(ctx)
	if err != nil {
		o.notifier.NotifyError(ctx, "quote snapshot", err)
		return err
	}
	result, err := o.screen(ctx, opts.Mode, rows)
	if err != nil {
		o.notifier.NotifyError(ctx, "screening", err)
		return err
	}

	o.enrichFlows(ctx, result.Final)
	o.display.StageStats(result.Name, result.Stats)
	o.display.Results(result.Final, 20)

	path, err := o.exporter.ExportRun(result.Name, result.Final, result.Snapshots)
	if err != nil {
		o.notifier.NotifyError(ctx, "csv export", err)
		return err
	}
	o.log.Info("run exported", "path", path)
	if err := o.notifier.NotifyResults(ctx, result.Name, sentiment, result.Final, result.Stats); err != nil {
		o.log.Warn("result notification failed", "err", err)
	}

	if opts.Pool {
		if err := o.runPool(ctx, rows); err != nil {
			return err
		}
	}
	if opts.Inst {
		if err := o.runInstitutional(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

// universe fetches the full realtime snapshot of both venues.
func (o *Orchestrator) universe(ctx context.Context) ([]models.Row, error) {
	rows, err := o.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("quote snapshot: %w", err)
	}
	o.log.Info("universe snapshot ready", "rows", len(rows))
	return rows, nil
}

// Sentiment runs only the foreign-flow cross-read and prints it.
func (o *Orchestrator) Sentiment(ctx context.Context) error {
	o.data.Reset()
	o.display.Sentiment(o.analyzeSentiment(ctx))
	return nil
}

// Status prints the index moving-average posture for both boards.
func (o *Orchestrator) Status(ctx context.Context) error {
	o.data.Reset()
	o.showMarketStatus(ctx)
	return nil
}

// gate enforces the screening window: a trading weekday between the
// configured start and the market close.
func (o *Orchestrator) gate() error {
	now := o.now()
	if !utils.IsWeekday(now) {
		return fmt.Errorf("%w: %s is not a trading day", ErrOutsideWindow, now.Weekday())
	}
	start, err := clockOn(now, o.cfg.Market.ScreenStart)
	if err != nil {
		return fmt.Errorf("bad screen_start: %w", err)
	}
	end, err := clockOn(now, o.cfg.Market.MarketClose)
	if err != nil {
		return fmt.Errorf("bad market_close: %w", err)
	}
	if now.Before(start) || now.After(end) {
		return fmt.Errorf("%w: now %s, window %s-%s",
			ErrOutsideWindow, now.Format("15:04"),
			o.cfg.Market.ScreenStart, o.cfg.Market.MarketClose)
	}
	return nil
}

// clockOn parses "HH:MM" onto the date of ref in Taipei time.
func clockOn(ref time.Time, clock string) (time.Time, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("want HH:MM, got %q", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	ref = ref.In(utils.Taipei)
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, utils.Taipei), nil
}

func (o *Orchestrator) analyzeSentiment(ctx context.Context) *models.ForeignSentiment {
	analyzer := market.NewSentimentAnalyzer(o.data.TWSE, o.data.FinMind, o.data.TAIFEX, o.log)
	return analyzer.Analyze(ctx)
}

func (o *Orchestrator) showMarketStatus(ctx context.Context) {
	monitor := market.NewMonitor(o.data.History.History, o.log)
	for _, index := range []models.Market{models.MarketTWSE, models.MarketTPEX} {
		status, err := monitor.Status(ctx, index)
		if err != nil {
			o.log.Warn("index status unavailable", "index", index, "err", err)
			continue
		}
		o.display.MarketStatus(status)
	}
}

// screen runs the selected chain over the universe snapshot.
func (o *Orchestrator) screen(ctx context.Context, mode string, rows []models.Row) (*screener.Result, error) {
	env := &screener.Env{
		History:      o.data.History,
		Ref:          o.data.Reference,
		Fundamentals: o.data.FinMind,
		Benchmark: func(ctx context.Context) (float64, bool) {
			if v, ok := o.cache.Get("benchmark_change"); ok {
				return v.(float64), true
			}
			change, err := o.data.TWSE.BenchmarkChange(ctx)
			if err != nil {
				o.log.Warn("benchmark change unavailable", "err", err)
				return 0, false
			}
			o.cache.Set("benchmark_change", change)
			return change, true
		},
		Log: o.log,
	}

	var pipeline *screener.Pipeline
	switch mode {
	case "left":
		pipeline = screener.LeftChain(env, o.cfg.Screening.Left, o.log)
	case "right":
		pipeline = screener.RightChain(env, o.cfg.Screening.Right, o.log)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	result, err := pipeline.Run(ctx, models.NewBatch(rows))
	if err != nil {
		return nil, err
	}
	if mode == "right" {
		screener.RankByChange(result.Final)
	}
	return result, nil
}

// enrichFlows attaches the recent institutional flow sums to the
// surviving rows. Failures leave the row without the columns.
func (o *Orchestrator) enrichFlows(ctx context.Context, batch *models.Batch) {
	for i := range batch.Rows {
		row := &batch.Rows[i]
		flows, err := o.data.FinMind.InstitutionalFlows(ctx, row.ID, 5)
		if err != nil {
			continue
		}
		var foreign, trust int64
		for _, f := range flows {
			foreign += f.Foreign
			trust += f.Trust
		}
		row.SetExt("foreign_5d_sum", float64(foreign))
		row.SetExt("trust_5d_sum", float64(trust))
	}
}

// runPool scans the universe (plus the sitting members, in case one
// dropped out of today's snapshot) and persists the updated membership.
func (o *Orchestrator) runPool(ctx context.Context, universe []models.Row) error {
	pool, err := tracker.NewPoolTracker(o.cfg.Data.OutputDir, o.candles, o.log)
	if err != nil {
		return err
	}

	rows := appendMembers(universe, pool.Members())
	diff, err := pool.Scan(ctx, rows)
	if err != nil {
		return err
	}
	if err := pool.Save(); err != nil {
		return fmt.Errorf("save pool state: %w", err)
	}

	o.display.PoolDiff(diff, pool.History())
	if _, err := o.exporter.ExportPool(diff, pool.History()); err != nil {
		return err
	}
	if err := o.notifier.NotifyPool(ctx, diff); err != nil {
		o.log.Warn("pool notification failed", "err", err)
	}
	return nil
}

// runInstitutional scans the universe (plus already-tracked stocks) for
// quiet accumulation and persists the watch state.
func (o *Orchestrator) runInstitutional(ctx context.Context, universe []models.Row) error {
	left := o.cfg.Screening.Left
	inst, err := tracker.NewInstitutionalTracker(
		o.cfg.Data.OutputDir, o.flows,
		left.QuietBuyMinDays, left.QuietBuyMaxStability, o.log)
	if err != nil {
		return err
	}

	tracked := make([]string, 0, len(inst.Records()))
	for id := range inst.Records() {
		tracked = append(tracked, id)
	}
	rows := appendMembers(universe, tracked)

	analyses := inst.Scan(ctx, rows)
	if err := inst.Save(); err != nil {
		return fmt.Errorf("save institutional state: %w", err)
	}

	o.display.Accumulation(analyses)
	if _, err := o.exporter.ExportInstitutional(analyses); err != nil {
		return err
	}
	if err := o.notifier.NotifyAccumulation(ctx, analyses); err != nil {
		o.log.Warn("accumulation notification failed", "err", err)
	}
	return nil
}

// appendMembers adds bare rows for ids not already among the candidates.
func appendMembers(candidates []models.Row, ids []string) []models.Row {
	seen := make(map[string]bool, len(candidates))
	rows := make([]models.Row, 0, len(candidates)+len(ids))
	for _, row := range candidates {
		seen[row.ID] = true
		rows = append(rows, row)
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		rows = append(rows, models.Row{Stock: models.Stock{ID: id}})
	}
	return rows
}
