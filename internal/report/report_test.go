package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

func sampleBatch() *models.Batch {
	rows := []models.Row{
		{
			Stock: models.Stock{ID: "2330", Name: "台積電", Market: models.MarketTWSE, Industry: "半導體業"},
			Quote: models.Quote{Price: 1050, Open: 1040, High: 1055, Low: 1035, PrevClose: 1040, Volume: 25000, ChangePct: 0.9615},
			Rank:  1,
		},
		{
			Stock: models.Stock{ID: "3105", Name: "穩懋", Market: models.MarketTPEX, Industry: "半導體業"},
			Quote: models.Quote{Price: 158.5, Open: 156, High: 159, Low: 155.5, PrevClose: 155, Volume: 3500, ChangePct: 2.258},
			Rank:  2,
		},
	}
	rows[0].SetExt("volume_ratio", 1.8352)
	rows[0].SetTag("volume_health", "healthy")
	rows[1].SetExt("rsi", 33.17)
	rows[1].SetTag("support_ma", "ma60")
	return models.NewBatch(rows)
}

func TestBatchCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	orig := sampleBatch()
	if err := WriteBatchCSV(path, orig); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, utf8BOM) {
		t.Error("CSV must start with a UTF-8 BOM")
	}

	got, err := ReadBatchCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != orig.Len() {
		t.Fatalf("rows = %d, want %d", got.Len(), orig.Len())
	}
	for i := range orig.Rows {
		want, have := &orig.Rows[i], &got.Rows[i]
		if have.ID != want.ID || have.Name != want.Name || have.Market != want.Market ||
			have.Industry != want.Industry || have.Rank != want.Rank {
			t.Errorf("row %d identity mismatch: %+v", i, have)
		}
		if math.Abs(have.Price-want.Price) > 1e-9 || math.Abs(have.ChangePct-want.ChangePct) > 1e-9 {
			t.Errorf("row %d numeric drift: %+v", i, have)
		}
		if have.Volume != want.Volume {
			t.Errorf("row %d volume = %d", i, have.Volume)
		}
		for k, v := range want.Ext {
			if rv, ok := have.GetExt(k); !ok || math.Abs(rv-v) > 1e-9 {
				t.Errorf("row %d ext %s = %v, want %v", i, k, rv, v)
			}
		}
		for k, v := range want.Tags {
			if have.GetTag(k) != v {
				t.Errorf("row %d tag %s = %q, want %q", i, k, have.GetTag(k), v)
			}
		}
	}
}

func TestExportRunWritesStepSnapshots(t *testing.T) {
	e := NewExporter(t.TempDir())
	batch := sampleBatch()
	snaps := []models.StageSnapshot{
		{Step: 1, Name: "market_cap", Batch: batch},
		{Step: 2, Name: "price_change", Batch: batch},
	}

	finalPath, err := e.ExportRun("right", batch, snaps)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(finalPath)
	if !strings.HasPrefix(base, "screener_right_") {
		t.Errorf("final file = %s", base)
	}

	dir := filepath.Dir(finalPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var stepsDir string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "steps_right_") {
			stepsDir = filepath.Join(dir, entry.Name())
		}
	}
	if stepsDir == "" {
		t.Fatal("steps directory missing")
	}
	for _, name := range []string{"step_01_market_cap.csv", "step_02_price_change.csv"} {
		if _, err := os.Stat(filepath.Join(stepsDir, name)); err != nil {
			t.Errorf("missing %s", name)
		}
	}
}

func TestPurgeOldKeepsRecentDirs(t *testing.T) {
	base := t.TempDir()
	now := utils.NowTaipei()
	oldDir := filepath.Join(base, now.AddDate(0, 0, -45).Format("20060102"))
	newDir := filepath.Join(base, now.Format("20060102"))
	keepDir := filepath.Join(base, "notes") // not date-stamped
	for _, dir := range []string{oldDir, newDir, keepDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := NewExporter(base).PurgeOld(30); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("stale directory survived the purge")
	}
	for _, dir := range []string{newDir, keepDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s purged, want kept", filepath.Base(dir))
		}
	}
}

func TestExportPool(t *testing.T) {
	e := NewExporter(t.TempDir())
	diff := &tracker.PoolDiff{
		Date:      "2026-08-24",
		New:       []string{"3008"},
		Continued: []string{"2330"},
		Removed:   []string{"2454"},
	}
	history := map[string]*tracker.PoolRecord{
		"2330": {StockID: "2330", Name: "台積電", FirstDate: "2026-08-20", LastDate: "2026-08-24", ConsecutiveDays: 3},
		"3008": {StockID: "3008", Name: "大立光", FirstDate: "2026-08-24", LastDate: "2026-08-24", ConsecutiveDays: 1},
		"2454": {StockID: "2454", Name: "聯發科", FirstDate: "2026-08-18", LastDate: "2026-08-21", ConsecutiveDays: 4, RemovedDate: "2026-08-24"},
	}

	path, err := e.ExportPool(diff, history)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(raw)
	for _, want := range []string{"2330,台積電,continued", "3008,大立光,new", "2454,聯發科,removed"} {
		if !strings.Contains(content, want) {
			t.Errorf("pool CSV missing %q", want)
		}
	}
}

// --- Notifier ---

func TestNotifierDisabledIsNoop(t *testing.T) {
	n := NewNotifier("", nil)
	if n.Enabled() {
		t.Fatal("empty URL must disable the notifier")
	}
	if err := n.Send(context.Background(), "ignored"); err != nil {
		t.Fatal(err)
	}
	if err := n.NotifyResults(context.Background(), "left", nil, sampleBatch(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestNotifierCapsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	fields := make([]EmbedField, 40)
	for i := range fields {
		fields[i] = EmbedField{Name: "n", Value: "v"}
	}
	n := NewNotifier(srv.URL, nil)
	err := n.Send(context.Background(), strings.Repeat("x", 3000), Embed{Fields: fields})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Content) > maxContentLen {
		t.Errorf("content length = %d", len(got.Content))
	}
	if len(got.Embeds) != 1 || len(got.Embeds[0].Fields) != maxEmbedFields {
		t.Errorf("embed fields = %d, want %d", len(got.Embeds[0].Fields), maxEmbedFields)
	}
}

func TestNotifierReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, nil)
	if err := n.Send(context.Background(), "hello"); err == nil {
		t.Error("4xx response must surface an error")
	}
}

func TestNotifyResultsEmbedShape(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sentiment := &models.ForeignSentiment{
		Label:  models.SentimentBullish,
		Detail: "spot +12.3億, futures OI +4500",
	}
	stats := []models.StageStat{
		{Step: 1, Name: "market_cap", InputCount: 1000, OutputCount: 400},
		{Step: 2, Name: "price_change", InputCount: 400, OutputCount: 2},
	}
	n := NewNotifier(srv.URL, nil)
	if err := n.NotifyResults(context.Background(), "right", sentiment, sampleBatch(), stats); err != nil {
		t.Fatal(err)
	}
	if len(got.Embeds) != 2 {
		t.Fatalf("embeds = %d, want results + funnel", len(got.Embeds))
	}
	embed := got.Embeds[0]
	if embed.Color != colorGreen {
		t.Errorf("color = %#x, want green for BULLISH", embed.Color)
	}
	if !strings.Contains(embed.Description, "BULLISH") {
		t.Errorf("description = %q", embed.Description)
	}
	if len(embed.Fields) != 2 {
		t.Errorf("fields = %d, want one per row", len(embed.Fields))
	}
	if !strings.Contains(embed.Fields[0].Name, "2330") {
		t.Errorf("first field = %q", embed.Fields[0].Name)
	}
	if !strings.Contains(got.Embeds[1].Description, "price_change") {
		t.Errorf("funnel embed = %q", got.Embeds[1].Description)
	}
}
