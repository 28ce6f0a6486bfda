package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestFinMind(url string) *FinMind {
	f := NewFinMind("", 5*time.Second)
	f.baseURL = url
	return f
}

func TestFinMindFetchStatusVariants(t *testing.T) {
	// The envelope status arrives as a number or a quoted string.
	for _, body := range []string{
		`{"msg":"success","status":200,"data":[{"date":"2026-08-21"}]}`,
		`{"msg":"success","status":"200","data":[{"date":"2026-08-21"}]}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		f := newTestFinMind(srv.URL)
		if _, err := f.fetch(context.Background(), "TaiwanStockPrice", "2330", "", ""); err != nil {
			t.Errorf("fetch(%s): %v", body, err)
		}
		srv.Close()
	}
}

func TestFinMindQuotaExceeded(t *testing.T) {
	// Quota exhaustion appears either as HTTP 402 or as envelope status 402.
	envelope := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"msg":"quota","status":402,"data":[]}`))
	}))
	defer envelope.Close()
	httpLevel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer httpLevel.Close()

	for _, url := range []string{envelope.URL, httpLevel.URL} {
		_, err := newTestFinMind(url).fetch(context.Background(), "TaiwanStockPrice", "2330", "", "")
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Errorf("fetch via %s: err = %v, want ErrQuotaExceeded", url, err)
		}
	}
}

func TestFinMindEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"msg":"success","status":200,"data":[]}`))
	}))
	defer srv.Close()

	_, err := newTestFinMind(srv.URL).fetch(context.Background(), "TaiwanStockPrice", "9999", "", "")
	if !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestFinMindInstitutionalFlowsPivot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"msg":"success","status":200,"data":[
			{"date":"2026-08-20","name":"Foreign_Investor","buy":5000000,"sell":2000000},
			{"date":"2026-08-20","name":"Foreign_Dealer_Self","buy":100000,"sell":50000},
			{"date":"2026-08-20","name":"Investment_Trust","buy":1000000,"sell":500000},
			{"date":"2026-08-20","name":"Dealer_self","buy":300000,"sell":400000},
			{"date":"2026-08-21","name":"Foreign_Investor","buy":1000000,"sell":3000000}
		]}`))
	}))
	defer srv.Close()

	flows, err := newTestFinMind(srv.URL).InstitutionalFlows(context.Background(), "2330", 5)
	if err != nil {
		t.Fatalf("InstitutionalFlows: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("flows = %d, want 2", len(flows))
	}
	d0 := flows[0]
	if d0.Date != "2026-08-20" {
		t.Errorf("dates not ascending: %s first", d0.Date)
	}
	// Both Foreign_* rows fold into the foreign bucket, in lots.
	if d0.Foreign != 3050 {
		t.Errorf("foreign = %d lots, want 3050", d0.Foreign)
	}
	if d0.Trust != 500 {
		t.Errorf("trust = %d lots, want 500", d0.Trust)
	}
	if d0.Dealer != -100 {
		t.Errorf("dealer = %d lots, want -100", d0.Dealer)
	}
	if d0.Total != d0.Foreign+d0.Trust+d0.Dealer {
		t.Errorf("total = %d", d0.Total)
	}
	if flows[1].Foreign != -2000 {
		t.Errorf("day2 foreign = %d lots, want -2000", flows[1].Foreign)
	}
}

func TestIsMajorHolderLevel(t *testing.T) {
	cases := []struct {
		level string
		want  bool
	}{
		{"1,000,001-5,000,000", true},
		{"more than 1,000,001", true},
		{"800,001-1,000,000", false},
		{"1-999", false},
		{"total", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isMajorHolderLevel(tc.level); got != tc.want {
			t.Errorf("isMajorHolderLevel(%q) = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestFinMindMonthlyRevenueYoY(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"msg":"success","status":200,"data":[
			{"date":"2025-08-10","revenue":100000,"revenue_month":7,"revenue_year":2025},
			{"date":"2026-08-10","revenue":125000,"revenue_month":7,"revenue_year":2026}
		]}`))
	}))
	defer srv.Close()

	revs, err := newTestFinMind(srv.URL).MonthlyRevenue(context.Background(), "2330", 1)
	if err != nil {
		t.Fatalf("MonthlyRevenue: %v", err)
	}
	last := revs[len(revs)-1]
	if last.Month != "2026-07" {
		t.Errorf("month = %s", last.Month)
	}
	if last.YoYGrowth != 25 {
		t.Errorf("yoy = %v, want 25", last.YoYGrowth)
	}
}
