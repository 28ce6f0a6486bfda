package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/chiehw/twscreener/internal/infra"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

const (
	finmindBaseURL = "https://api.finmindtrade.com/api/v4/data"
	finmindRate    = 5 // requests per second; the free tier throttles hard
)

// FinMind is the primary derived-data provider: daily candles, market
// value, shares outstanding, revenue, EPS, institutional flows,
// shareholding distribution and futures open interest, all through the
// same v4 dataset endpoint.
type FinMind struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *infra.RateLimiter
}

// NewFinMind creates a FinMind client. The token is optional; without it
// the provider enforces a much smaller quota.
func NewFinMind(token string, timeout time.Duration) *FinMind {
	return &FinMind{
		baseURL: finmindBaseURL,
		token:   token,
		client:  newHTTPClient(timeout),
		limiter: infra.NewRateLimiter(finmindRate, time.Second),
	}
}

// HasToken reports whether a quota-extending token is configured.
func (f *FinMind) HasToken() bool { return f.token != "" }

type finmindEnvelope struct {
	Msg    string          `json:"msg"`
	Status json.RawMessage `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// fetch issues one dataset query and returns the raw data array.
// A 402 on either the HTTP or the envelope level maps to
// ErrQuotaExceeded so the history store can latch.
func (f *FinMind) fetch(ctx context.Context, dataset, dataID, startDate, endDate string) (json.RawMessage, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("dataset", dataset)
	if dataID != "" {
		params.Set("data_id", dataID)
	}
	if startDate != "" {
		params.Set("start_date", startDate)
	}
	if endDate != "" {
		params.Set("end_date", endDate)
	}
	if f.token != "" {
		params.Set("token", f.token)
	}

	body, err := getBody(ctx, f.client, f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		var httpErr *ErrHTTP
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusPaymentRequired {
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("finmind %s: %w", dataset, err)
	}

	var env finmindEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse finmind %s: %w", dataset, err)
	}

	// Status arrives as a number or a quoted string depending on the
	// API path taken upstream.
	status := strings.Trim(string(env.Status), `"`)
	switch status {
	case "200":
	case "402":
		return nil, ErrQuotaExceeded
	default:
		return nil, fmt.Errorf("finmind %s: status %s: %s", dataset, status, env.Msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" || string(env.Data) == "[]" {
		return nil, ErrNoData
	}
	return env.Data, nil
}

// --- Daily candles ---

type finmindPriceRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"max"`
	Low    float64 `json:"min"`
	Close  float64 `json:"close"`
	Volume int64   `json:"Trading_Volume"` // shares
}

// DailyCandles returns up to days daily candles for one stock,
// ascending by date.
func (f *FinMind) DailyCandles(ctx context.Context, stockID string, days int) ([]models.Candle, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, 0, -days*2)

	data, err := f.fetch(ctx, "TaiwanStockPrice", stockID, utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindPriceRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse TaiwanStockPrice: %w", err)
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, r := range raw {
		if r.Close <= 0 {
			continue
		}
		candles = append(candles, models.Candle{
			Date:   r.Date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Date < candles[j].Date })
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}
	return candles, nil
}

// --- Market value snapshot ---

type finmindMarketValueRow struct {
	Date    string  `json:"date"`
	StockID string  `json:"stock_id"`
	Value   float64 `json:"market_value"`
}

// MarketCapSnapshot returns the latest market capitalization per stock,
// in hundred-millions of TWD.
func (f *FinMind) MarketCapSnapshot(ctx context.Context) (map[string]float64, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, 0, -7)

	data, err := f.fetch(ctx, "TaiwanStockMarketValue", "", utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindMarketValueRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse TaiwanStockMarketValue: %w", err)
	}

	latest := ""
	for _, r := range raw {
		if r.Date > latest {
			latest = r.Date
		}
	}
	caps := make(map[string]float64)
	for _, r := range raw {
		if r.Date == latest {
			caps[r.StockID] = r.Value / 1e8
		}
	}
	if len(caps) == 0 {
		return nil, ErrNoData
	}
	return caps, nil
}

// --- Shares outstanding ---

type finmindShareholdingRow struct {
	Date         string `json:"date"`
	StockID      string `json:"stock_id"`
	SharesIssued int64  `json:"NumberOfSharesIssued"`
}

// SharesOutstanding returns the latest issued-share count per stock.
func (f *FinMind) SharesOutstanding(ctx context.Context) (map[string]int64, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, 0, -30)

	data, err := f.fetch(ctx, "TaiwanStockShareholding", "", utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindShareholdingRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse TaiwanStockShareholding: %w", err)
	}

	latest := ""
	for _, r := range raw {
		if r.Date > latest {
			latest = r.Date
		}
	}
	shares := make(map[string]int64)
	for _, r := range raw {
		if r.Date == latest && r.SharesIssued > 0 {
			shares[r.StockID] = r.SharesIssued
		}
	}
	if len(shares) == 0 {
		return nil, ErrNoData
	}
	return shares, nil
}

// --- Monthly revenue ---

type finmindRevenueRow struct {
	Date         string  `json:"date"`
	Revenue      float64 `json:"revenue"`
	RevenueMonth int     `json:"revenue_month"`
	RevenueYear  int     `json:"revenue_year"`
}

// MonthlyRevenue returns recent monthly revenue with year-over-year
// growth, most recent last. months counts reported months wanted; the
// query reaches back far enough to compute YoY for each.
func (f *FinMind) MonthlyRevenue(ctx context.Context, stockID string, months int) ([]models.MonthlyRevenue, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, -(months + 14), 0)

	data, err := f.fetch(ctx, "TaiwanStockMonthRevenue", stockID, utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindRevenueRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse TaiwanStockMonthRevenue: %w", err)
	}

	byMonth := make(map[string]float64, len(raw))
	keys := make([]string, 0, len(raw))
	for _, r := range raw {
		k := fmt.Sprintf("%04d-%02d", r.RevenueYear, r.RevenueMonth)
		if _, seen := byMonth[k]; !seen {
			keys = append(keys, k)
		}
		byMonth[k] = r.Revenue
	}
	sort.Strings(keys)

	out := make([]models.MonthlyRevenue, 0, months)
	for _, k := range keys {
		prior := fmt.Sprintf("%04d-%s", atoiOr(k[:4])-1, k[5:])
		rec := models.MonthlyRevenue{Month: k, Revenue: byMonth[k]}
		if prev, ok := byMonth[prior]; ok && prev > 0 {
			rec.YoYGrowth = (byMonth[k] - prev) / prev * 100
		}
		out = append(out, rec)
	}
	if len(out) > months {
		out = out[len(out)-months:]
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func atoiOr(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// --- Quarterly EPS ---

type finmindStatementRow struct {
	Date  string  `json:"date"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// QuarterlyEPS returns the trailing reported quarterly EPS values,
// most recent last.
func (f *FinMind) QuarterlyEPS(ctx context.Context, stockID string, quarters int) ([]models.QuarterlyEPS, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, -3*(quarters+2), 0)

	data, err := f.fetch(ctx, "TaiwanStockFinancialStatements", stockID, utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindStatementRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse TaiwanStockFinancialStatements: %w", err)
	}

	var eps []models.QuarterlyEPS
	for _, r := range raw {
		if r.Type != "EPS" {
			continue
		}
		eps = append(eps, models.QuarterlyEPS{Quarter: r.Date, EPS: r.Value})
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Quarter < eps[j].Quarter })
	if len(eps) > quarters {
		eps = eps[len(eps)-quarters:]
	}
	if len(eps) == 0 {
		return nil, ErrNoData
	}
	return eps, nil
}

// --- Institutional buy/sell ---

type finmindInstitutionalRow struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Buy  int64  `json:"buy"`
	Sell int64  `json:"sell"`
}

// InstitutionalFlows returns daily net buy/sell per participant class
// for one stock, in lots, ascending by date, at most days entries.
func (f *FinMind) InstitutionalFlows(ctx context.Context, stockID string, days int) ([]models.InstitutionalFlow, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, 0, -days*2)

	data, err := f.fetch(ctx, "TaiwanStockInstitutionalInvestorsBuySell", stockID, utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindInstitutionalRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse institutional buy/sell: %w", err)
	}

	// Pivot by (date, participant). Wire quantities are shares; the
	// report unit is lots.
	type net struct{ foreign, trust, dealer int64 }
	byDate := make(map[string]*net)
	dates := make([]string, 0)
	for _, r := range raw {
		n, ok := byDate[r.Date]
		if !ok {
			n = &net{}
			byDate[r.Date] = n
			dates = append(dates, r.Date)
		}
		diff := r.Buy - r.Sell
		switch {
		case strings.HasPrefix(r.Name, "Foreign"):
			n.foreign += diff
		case strings.HasPrefix(r.Name, "Investment_Trust"):
			n.trust += diff
		case strings.HasPrefix(r.Name, "Dealer"):
			n.dealer += diff
		}
	}
	sort.Strings(dates)
	if len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	flows := make([]models.InstitutionalFlow, 0, len(dates))
	for _, d := range dates {
		n := byDate[d]
		foreign := n.foreign / 1000
		trust := n.trust / 1000
		dealer := n.dealer / 1000
		flows = append(flows, models.InstitutionalFlow{
			Date:    d,
			Foreign: foreign,
			Trust:   trust,
			Dealer:  dealer,
			Total:   foreign + trust + dealer,
		})
	}
	if len(flows) == 0 {
		return nil, ErrNoData
	}
	return flows, nil
}

// --- Shareholding distribution ---

type finmindHoldingRow struct {
	Date    string  `json:"date"`
	Level   string  `json:"HoldingSharesLevel"`
	Percent float64 `json:"percent"`
}

// MajorHolderSeries returns the weekly percentage held by >= 1000-lot
// holders, ascending by date.
func (f *FinMind) MajorHolderSeries(ctx context.Context, stockID string, weeks int) ([]models.HoldingObservation, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, 0, -weeks*9)

	data, err := f.fetch(ctx, "TaiwanStockHoldingSharesPer", stockID, utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindHoldingRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse TaiwanStockHoldingSharesPer: %w", err)
	}

	byDate := make(map[string]float64)
	dates := make([]string, 0)
	for _, r := range raw {
		if !isMajorHolderLevel(r.Level) {
			continue
		}
		if _, seen := byDate[r.Date]; !seen {
			dates = append(dates, r.Date)
		}
		byDate[r.Date] += r.Percent
	}
	sort.Strings(dates)
	if len(dates) > weeks {
		dates = dates[len(dates)-weeks:]
	}

	obs := make([]models.HoldingObservation, 0, len(dates))
	for _, d := range dates {
		obs = append(obs, models.HoldingObservation{Date: d, MajorPct: byDate[d]})
	}
	if len(obs) == 0 {
		return nil, ErrNoData
	}
	return obs, nil
}

// isMajorHolderLevel matches distribution tiers whose lower bound is
// above 1,000,000 shares (1000 lots). The tier labels look like
// "1,000,001-5,000,000" or "more than 1,000,001".
func isMajorHolderLevel(level string) bool {
	level = strings.TrimSpace(level)
	if level == "" || strings.EqualFold(level, "total") {
		return false
	}
	cut := strings.IndexAny(level, "-")
	lower := level
	if strings.HasPrefix(strings.ToLower(level), "more than") {
		lower = strings.TrimSpace(level[len("more than"):])
	} else if cut > 0 {
		lower = level[:cut]
	}
	n, ok := utils.ParseWireInt(lower)
	return ok && n > 1_000_000
}

// --- Futures open interest ---

type finmindFuturesRow struct {
	Date     string `json:"date"`
	Name     string `json:"name"`
	Contract string `json:"futures_id"`
	OILong   int64  `json:"long_open_interest_balance_volume"`
	OIShort  int64  `json:"short_open_interest_balance_volume"`
}

// ForeignFuturesOI returns the foreign-investor open interest in the TX
// index futures contract for recent trading days, ascending by date.
func (f *FinMind) ForeignFuturesOI(ctx context.Context) ([]models.FuturesOI, error) {
	now := utils.NowTaipei()
	start := now.AddDate(0, 0, -7)

	data, err := f.fetch(ctx, "TaiwanFuturesInstitutionalInvestors", "", utils.ISODate(start), utils.ISODate(now))
	if err != nil {
		return nil, err
	}

	var raw []finmindFuturesRow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse futures institutional: %w", err)
	}

	type agg struct{ long, short int64 }
	byDate := make(map[string]*agg)
	dates := make([]string, 0)
	for _, r := range raw {
		if !strings.Contains(r.Name, "外資") || !strings.Contains(r.Contract, "TX") {
			continue
		}
		a, ok := byDate[r.Date]
		if !ok {
			a = &agg{}
			byDate[r.Date] = a
			dates = append(dates, r.Date)
		}
		a.long += r.OILong
		a.short += r.OIShort
	}
	sort.Strings(dates)

	out := make([]models.FuturesOI, 0, len(dates))
	for _, d := range dates {
		a := byDate[d]
		out = append(out, models.FuturesOI{
			Date:  d,
			Long:  a.long,
			Short: a.short,
			Net:   a.long - a.short,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}
