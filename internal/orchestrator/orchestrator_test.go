package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/chiehw/twscreener/internal/config"
	"github.com/chiehw/twscreener/internal/report"
	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := &config.Config{}
	cfg.Data.OutputDir = t.TempDir()
	cfg.Market.ScreenStart = "13:00"
	cfg.Market.MarketClose = "13:30"
	return New(cfg, nil)
}

func TestGateWindow(t *testing.T) {
	o := testOrchestrator(t)
	// 2026-08-24 is a Monday.
	cases := []struct {
		name string
		now  time.Time
		open bool
	}{
		{"inside", time.Date(2026, 8, 24, 13, 10, 0, 0, utils.Taipei), true},
		{"at start", time.Date(2026, 8, 24, 13, 0, 0, 0, utils.Taipei), true},
		{"before start", time.Date(2026, 8, 24, 11, 0, 0, 0, utils.Taipei), false},
		{"after close", time.Date(2026, 8, 24, 14, 0, 0, 0, utils.Taipei), false},
		{"weekend", time.Date(2026, 8, 23, 13, 10, 0, 0, utils.Taipei), false},
	}
	for _, tc := range cases {
		o.now = func() time.Time { return tc.now }
		err := o.gate()
		if tc.open && err != nil {
			t.Errorf("%s: gate closed: %v", tc.name, err)
		}
		if !tc.open {
			if !errors.Is(err, ErrOutsideWindow) {
				t.Errorf("%s: err = %v, want ErrOutsideWindow", tc.name, err)
			}
		}
	}
}

func TestClockOnRejectsGarbage(t *testing.T) {
	ref := time.Date(2026, 8, 24, 0, 0, 0, 0, utils.Taipei)
	if _, err := clockOn(ref, "1300"); err == nil {
		t.Error("missing colon must fail")
	}
	if _, err := clockOn(ref, "xx:30"); err == nil {
		t.Error("non-numeric hour must fail")
	}
	at, err := clockOn(ref, "13:05")
	if err != nil {
		t.Fatal(err)
	}
	if at.Hour() != 13 || at.Minute() != 5 {
		t.Errorf("parsed %v", at)
	}
}

func TestPoolOnlyScansFullUniverse(t *testing.T) {
	o := testOrchestrator(t)
	o.display = report.NewDisplay(io.Discard)
	// Fresh pool state: admission must come from the universe snapshot,
	// not from the (empty) member list.
	o.snapshot = func(context.Context) ([]models.Row, error) {
		return []models.Row{{Stock: models.Stock{ID: "3008", Name: "大立光"}}}, nil
	}
	o.candles = func(_ context.Context, id string, days int) []models.Candle {
		out := make([]models.Candle, 70)
		for i := range out {
			out[i] = models.Candle{Close: 100 + float64(i)}
		}
		return out
	}

	if err := o.Run(context.Background(), Options{Force: true, PoolOnly: true}); err != nil {
		t.Fatal(err)
	}

	pool, err := tracker.NewPoolTracker(o.cfg.Data.OutputDir, o.candles, nil)
	if err != nil {
		t.Fatal(err)
	}
	members := pool.Members()
	if len(members) != 1 || members[0] != "3008" {
		t.Errorf("members = %v, want the newly qualifying stock admitted", members)
	}
	rec := pool.History()["3008"]
	if rec == nil || rec.ConsecutiveDays != 1 {
		t.Errorf("history record = %+v", rec)
	}
}

func TestInstOnlyScansFullUniverse(t *testing.T) {
	o := testOrchestrator(t)
	o.display = report.NewDisplay(io.Discard)
	o.snapshot = func(context.Context) ([]models.Row, error) {
		return []models.Row{{Stock: models.Stock{ID: "2330", Name: "台積電"}}}, nil
	}
	o.flows = func(_ context.Context, stockID string, days int) ([]models.InstitutionalFlow, error) {
		flows := make([]models.InstitutionalFlow, 20)
		for i := range flows {
			flows[i] = models.InstitutionalFlow{Foreign: 100, Total: 100}
		}
		return flows, nil
	}

	if err := o.Run(context.Background(), Options{Force: true, InstOnly: true}); err != nil {
		t.Fatal(err)
	}

	inst, err := tracker.NewInstitutionalTracker(o.cfg.Data.OutputDir, o.flows, 5, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := inst.Records()["2330"]; !ok {
		t.Errorf("records = %v, want the universe stock tracked", inst.Records())
	}
}

func TestAppendMembersDedupes(t *testing.T) {
	candidates := []models.Row{
		{Stock: models.Stock{ID: "2330", Name: "台積電"}},
	}
	rows := appendMembers(candidates, []string{"2330", "1101"})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].ID != "2330" || rows[0].Name != "台積電" {
		t.Errorf("candidate row lost: %+v", rows[0])
	}
	if rows[1].ID != "1101" {
		t.Errorf("member row = %+v", rows[1])
	}
}
