// Package screener implements the two strategy chains and the pipeline
// runner that threads a candidate batch through them.
package screener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chiehw/twscreener/pkg/models"
)

// Stage is one screening predicate. Apply reads a batch, optionally
// enriches rows with derived columns, and returns the passing subset.
// Stages must preserve columns added by earlier stages.
type Stage interface {
	Name() string
	Apply(ctx context.Context, batch *models.Batch) (*models.Batch, error)
}

// HistorySource serves daily candle history. The concrete implementation
// is the datasource history store with its provider latch and memo.
type HistorySource interface {
	History(ctx context.Context, stockID string, days int) []models.Candle
	Prefetch(ctx context.Context, ids []string, days int)
}

// ReferenceSource serves the run-scoped reference caches.
type ReferenceSource interface {
	MarketCaps(ctx context.Context) map[string]float64
	SharesOutstanding(ctx context.Context) map[string]int64
}

// FundamentalSource serves the per-stock derived queries the left chain
// draws on.
type FundamentalSource interface {
	MonthlyRevenue(ctx context.Context, stockID string, months int) ([]models.MonthlyRevenue, error)
	QuarterlyEPS(ctx context.Context, stockID string, quarters int) ([]models.QuarterlyEPS, error)
	MajorHolderSeries(ctx context.Context, stockID string, weeks int) ([]models.HoldingObservation, error)
	InstitutionalFlows(ctx context.Context, stockID string, days int) ([]models.InstitutionalFlow, error)
}

// Env bundles the shared data handles every stage may draw on. All
// per-run caching lives behind these handles, so stages stay stateless
// between runs.
type Env struct {
	History      HistorySource
	Ref          ReferenceSource
	Fundamentals FundamentalSource

	// Benchmark returns today's index percent change. ok is false when
	// the index table is unavailable.
	Benchmark func(ctx context.Context) (float64, bool)

	Log *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

// Result is the outcome of one pipeline run: the surviving batch, the
// per-stage statistics and a deep-copied snapshot after every stage.
type Result struct {
	Name      string
	Final     *models.Batch
	Stats     []models.StageStat
	Snapshots []models.StageSnapshot
}

// Aborted reports whether the run ended early on an empty batch.
func (r *Result) Aborted() bool {
	return len(r.Stats) > 0 && r.Stats[len(r.Stats)-1].OutputCount == 0
}

// Pipeline threads a batch through an ordered stage list.
type Pipeline struct {
	name   string
	stages []Stage
	log    *slog.Logger
}

// NewPipeline creates a named pipeline over the given stages.
func NewPipeline(name string, stages []Stage, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{name: name, stages: stages, log: log}
}

// Run executes the stages in order. An empty intermediate batch ends the
// run early; that is a recorded outcome, not an error. A stage error
// aborts the run.
func (p *Pipeline) Run(ctx context.Context, batch *models.Batch) (*Result, error) {
	res := &Result{Name: p.name, Final: batch}
	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		in := batch.Len()
		out, err := stage.Apply(ctx, batch)
		if err != nil {
			return res, fmt.Errorf("stage %d (%s): %w", i+1, stage.Name(), err)
		}

		stat := models.StageStat{
			Step:        i + 1,
			Name:        stage.Name(),
			InputCount:  in,
			OutputCount: out.Len(),
		}
		res.Stats = append(res.Stats, stat)
		res.Snapshots = append(res.Snapshots, models.StageSnapshot{
			Step:  i + 1,
			Name:  stage.Name(),
			Batch: out.Clone(),
		})
		p.log.Info("stage done",
			"pipeline", p.name, "step", i+1, "stage", stage.Name(),
			"in", in, "out", out.Len(),
			"pass_rate", fmt.Sprintf("%.1f%%", stat.PassRate()))

		batch = out
		res.Final = batch
		if batch.Empty() {
			p.log.Warn("pipeline emptied early", "pipeline", p.name, "stage", stage.Name())
			break
		}
	}
	return res, nil
}

// filterRows runs a per-row predicate and returns the passing subset in
// input order. keep may mutate the row to attach derived columns.
func filterRows(batch *models.Batch, keep func(row *models.Row) bool) *models.Batch {
	out := make([]models.Row, 0, batch.Len())
	for i := range batch.Rows {
		row := batch.Rows[i]
		if keep(&row) {
			out = append(out, row)
		}
	}
	return models.NewBatch(out)
}
