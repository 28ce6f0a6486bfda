// Package report renders run results: console display, CSV export with
// date-stamped directories, and webhook notification.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// utf8BOM keeps CJK headers readable in legacy spreadsheet tools.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Exporter writes run artifacts under a date-stamped directory tree:
// <base>/YYYYMMDD/screener_<mode>_HHMMSS.csv plus one CSV per stage
// snapshot under steps_<mode>_HHMMSS/.
type Exporter struct {
	base string
}

// NewExporter creates an exporter rooted at base (e.g. data/output).
func NewExporter(base string) *Exporter {
	return &Exporter{base: base}
}

// DateDir returns (creating if needed) today's output directory.
func (e *Exporter) DateDir() (string, error) {
	dir := filepath.Join(e.base, utils.CompactDate(utils.NowTaipei()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// ExportRun writes the final batch and every stage snapshot.
func (e *Exporter) ExportRun(mode string, final *models.Batch, snapshots []models.StageSnapshot) (string, error) {
	dir, err := e.DateDir()
	if err != nil {
		return "", err
	}
	stamp := utils.NowTaipei().Format("150405")

	finalPath := filepath.Join(dir, fmt.Sprintf("screener_%s_%s.csv", mode, stamp))
	if err := WriteBatchCSV(finalPath, final); err != nil {
		return "", err
	}

	stepsDir := filepath.Join(dir, fmt.Sprintf("steps_%s_%s", mode, stamp))
	if err := os.MkdirAll(stepsDir, 0o755); err != nil {
		return "", fmt.Errorf("create steps dir: %w", err)
	}
	for _, snap := range snapshots {
		name := fmt.Sprintf("step_%02d_%s.csv", snap.Step, snap.Name)
		if err := WriteBatchCSV(filepath.Join(stepsDir, name), snap.Batch); err != nil {
			return "", err
		}
	}
	return finalPath, nil
}

// WriteBatchCSV serializes a batch with a stable column layout: the
// fixed quote columns, then derived numeric columns sorted by name,
// then tag columns sorted by name.
func WriteBatchCSV(path string, batch *models.Batch) error {
	extCols, tagCols := derivedColumns(batch)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return err
	}
	w := csv.NewWriter(f)

	header := []string{
		"rank", "stock_id", "stock_name", "market", "industry",
		"price", "change_pct", "open", "high", "low", "prev_close", "volume",
	}
	header = append(header, extCols...)
	header = append(header, tagCols...)
	if err := w.Write(header); err != nil {
		return err
	}

	for i := range batch.Rows {
		row := &batch.Rows[i]
		rec := []string{
			strconv.Itoa(row.Rank),
			row.ID, row.Name, string(row.Market), row.Industry,
			formatFloat(row.Price), formatFloat(row.ChangePct),
			formatFloat(row.Open), formatFloat(row.High), formatFloat(row.Low),
			formatFloat(row.PrevClose),
			strconv.FormatInt(row.Volume, 10),
		}
		for _, col := range extCols {
			if v, ok := row.GetExt(col); ok {
				rec = append(rec, formatFloat(v))
			} else {
				rec = append(rec, "")
			}
		}
		for _, col := range tagCols {
			rec = append(rec, row.GetTag(col))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// derivedColumns collects the union of Ext and Tag keys across the
// batch, each sorted for a deterministic layout.
func derivedColumns(batch *models.Batch) (ext, tags []string) {
	extSet := make(map[string]bool)
	tagSet := make(map[string]bool)
	for i := range batch.Rows {
		for k := range batch.Rows[i].Ext {
			extSet[k] = true
		}
		for k := range batch.Rows[i].Tags {
			tagSet[k] = true
		}
	}
	for k := range extSet {
		ext = append(ext, k)
	}
	for k := range tagSet {
		tags = append(tags, k)
	}
	sort.Strings(ext)
	sort.Strings(tags)
	return ext, tags
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadBatchCSV loads a batch CSV written by WriteBatchCSV, restoring
// the fixed columns, derived numeric columns and tags.
func ReadBatchCSV(path string) (*models.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) >= len(utf8BOM) && string(data[:3]) == string(utf8BOM) {
		data = data[3:]
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return models.NewBatch(nil), nil
	}

	header := records[0]
	const fixed = 12
	rows := make([]models.Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			continue
		}
		var row models.Row
		row.Rank, _ = strconv.Atoi(rec[0])
		row.ID, row.Name = rec[1], rec[2]
		row.Market = models.Market(rec[3])
		row.Industry = rec[4]
		row.Price = parseFloat(rec[5])
		row.ChangePct = parseFloat(rec[6])
		row.Open = parseFloat(rec[7])
		row.High = parseFloat(rec[8])
		row.Low = parseFloat(rec[9])
		row.PrevClose = parseFloat(rec[10])
		row.Volume, _ = strconv.ParseInt(rec[11], 10, 64)

		for i := fixed; i < len(header); i++ {
			if rec[i] == "" {
				continue
			}
			if v, err := strconv.ParseFloat(rec[i], 64); err == nil {
				row.SetExt(header[i], v)
			} else {
				row.SetTag(header[i], rec[i])
			}
		}
		rows = append(rows, row)
	}
	return models.NewBatch(rows), nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// PurgeOld removes date-stamped output directories older than
// retentionDays. Non-date entries are left alone.
func (e *Exporter) PurgeOld(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(e.base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := utils.NowTaipei().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stamp, err := time.ParseInLocation("20060102", entry.Name(), utils.Taipei)
		if err != nil {
			continue
		}
		if stamp.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(e.base, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportPool writes today's bullish-pool membership with its cumulative
// per-stock history.
func (e *Exporter) ExportPool(diff *tracker.PoolDiff, history map[string]*tracker.PoolRecord) (string, error) {
	dir, err := e.DateDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "bullish_pool.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(utf8BOM); err != nil {
		return "", err
	}

	status := make(map[string]string, len(diff.New)+len(diff.Removed)+len(diff.Continued))
	for _, id := range diff.New {
		status[id] = "new"
	}
	for _, id := range diff.Continued {
		status[id] = "continued"
	}
	for _, id := range diff.Removed {
		status[id] = "removed"
	}

	ids := make([]string, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"stock_id", "stock_name", "status",
		"first_date", "last_date", "consecutive_days", "removed_date",
	}); err != nil {
		return "", err
	}
	for _, id := range ids {
		rec := history[id]
		if err := w.Write([]string{
			rec.StockID, rec.Name, status[id],
			rec.FirstDate, rec.LastDate,
			strconv.Itoa(rec.ConsecutiveDays), rec.RemovedDate,
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}

// ExportInstitutional writes the accumulation scan results.
func (e *Exporter) ExportInstitutional(analyses []models.AccumulationAnalysis) (string, error) {
	dir, err := e.DateDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "institutional_tracking.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(utf8BOM); err != nil {
		return "", err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"stock_id", "behavior", "data_days",
		"foreign_consecutive_buy", "trust_consecutive_buy",
		"foreign_5d", "foreign_10d", "foreign_20d",
		"trust_5d", "trust_10d", "trust_20d",
		"foreign_stability", "trust_stability", "quietly_buying",
	}); err != nil {
		return "", err
	}
	for _, a := range analyses {
		if err := w.Write([]string{
			a.StockID, a.BehaviorType, strconv.Itoa(a.Days),
			strconv.Itoa(a.ForeignConsecutiveBuy), strconv.Itoa(a.TrustConsecutiveBuy),
			strconv.FormatInt(a.Foreign5DSum, 10), strconv.FormatInt(a.Foreign10DSum, 10), strconv.FormatInt(a.Foreign20DSum, 10),
			strconv.FormatInt(a.Trust5DSum, 10), strconv.FormatInt(a.Trust10DSum, 10), strconv.FormatInt(a.Trust20DSum, 10),
			strconv.FormatFloat(a.ForeignStability, 'f', 2, 64), strconv.FormatFloat(a.TrustStability, 'f', 2, 64),
			strconv.FormatBool(a.IsQuietlyBuying),
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return path, w.Error()
}
