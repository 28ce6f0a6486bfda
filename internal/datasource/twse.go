package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chiehw/twscreener/internal/infra"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

const (
	twseBaseURL = "https://www.twse.com.tw"
	twseRate    = 3 // max requests per second
)

// TWSE fetches listed-market data from the main exchange.
type TWSE struct {
	baseURL string
	client  *http.Client
	limiter *infra.RateLimiter

	// spotRowIdx caches the resolved institutional-summary row index for
	// the run; the endpoint returns a rotating set of rows.
	spotRowIdx int
}

// NewTWSE creates a main-exchange client.
func NewTWSE(timeout time.Duration) *TWSE {
	return &TWSE{
		baseURL:    twseBaseURL,
		client:     newHTTPClient(timeout),
		limiter:    infra.NewRateLimiter(twseRate, time.Second),
		spotRowIdx: -1,
	}
}

// --- Response envelopes ---

// twseDailyResponse covers both the current "tables" schema and the
// legacy flat schema of MI_INDEX.
type twseDailyResponse struct {
	Stat   string         `json:"stat"`
	Tables []twseRawTable `json:"tables"`
	Data9  [][]string     `json:"data9"` // legacy variant
	Data1  [][]string     `json:"data1"` // index table (type=IND)
}

type twseRawTable struct {
	Title  string     `json:"title"`
	Fields []string   `json:"fields"`
	Data   [][]string `json:"data"`
}

type twseFundResponse struct {
	Stat string     `json:"stat"`
	Date string     `json:"date"`
	Data [][]string `json:"data"`
}

type twseStockDayResponse struct {
	Stat string     `json:"stat"`
	Data [][]string `json:"data"`
}

// --- Realtime (post-close) snapshot ---

// DailyQuotes returns the post-close daily snapshot for every listed
// ordinary issue. Rows with malformed ids or no-trade sentinels are
// dropped, never corrected.
func (t *TWSE) DailyQuotes(ctx context.Context) ([]models.Row, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/exchangeReport/MI_INDEX?response=json&date=%s&type=ALLBUT0999",
		t.baseURL, utils.CompactDate(time.Now()))
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("TWSE daily quotes: %w", err)
	}

	var resp twseDailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse TWSE daily quotes: %w", err)
	}

	// Current schema keeps the all-stocks table at index 8; the legacy
	// schema exposes it as data9. Probe rather than trust the position.
	var raw [][]string
	if len(resp.Tables) > 8 {
		raw = resp.Tables[8].Data
	}
	if len(raw) == 0 {
		raw = resp.Data9
	}
	if len(raw) == 0 {
		return nil, ErrNoData
	}

	rows := make([]models.Row, 0, len(raw))
	for _, item := range raw {
		row, ok := parseTWSEQuoteRow(item)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseTWSEQuoteRow converts one MI_INDEX row to a candidate row.
// Field order: 0 id, 1 name, 2 shares traded, 3 trade count, 4 value,
// 5 open, 6 high, 7 low, 8 close, 9 change sign, 10 change amount.
func parseTWSEQuoteRow(item []string) (models.Row, bool) {
	if len(item) < 11 {
		return models.Row{}, false
	}
	id := strings.TrimSpace(item[0])
	if !utils.IsValidStockID(id) {
		return models.Row{}, false
	}

	price, ok := utils.ParseWireFloat(item[8])
	if !ok || price <= 0 {
		return models.Row{}, false
	}

	change, _ := utils.ParseWireFloat(item[10])
	if changeIsNegative(item[9]) {
		change = -abs(change)
	}
	prevClose := price - change

	open, ok := utils.ParseWireFloat(item[5])
	if !ok {
		open = price
	}
	high, ok := utils.ParseWireFloat(item[6])
	if !ok {
		high = price
	}
	low, ok := utils.ParseWireFloat(item[7])
	if !ok {
		low = price
	}
	shares, _ := utils.ParseWireInt(item[2])

	return models.Row{
		Stock: models.Stock{
			ID:     id,
			Name:   strings.TrimSpace(item[1]),
			Market: models.MarketTWSE,
		},
		Quote: models.Quote{
			Price:     price,
			Open:      open,
			High:      high,
			Low:       low,
			PrevClose: prevClose,
			Volume:    shares / 1000, // shares -> lots
			ChangePct: changePct(price, prevClose),
		},
	}, true
}

// changeIsNegative inspects the sign-token field, which may carry plain
// text or an HTML fragment with a CSS color-class hint.
func changeIsNegative(sign string) bool {
	s := strings.ToLower(strings.TrimSpace(sign))
	return strings.Contains(s, "-") || strings.Contains(s, "green")
}

func changePct(price, prevClose float64) float64 {
	if prevClose <= 0 {
		return 0
	}
	return (price - prevClose) / prevClose * 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// --- Benchmark index ---

// BenchmarkChange returns today's percent change of the capitalization
// weighted index, or an error when the table is unavailable.
func (t *TWSE) BenchmarkChange(ctx context.Context) (float64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/exchangeReport/MI_INDEX?response=json&date=%s&type=IND",
		t.baseURL, utils.CompactDate(time.Now()))
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return 0, fmt.Errorf("TWSE benchmark: %w", err)
	}

	var resp twseDailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse TWSE benchmark: %w", err)
	}

	raw := resp.Data1
	if len(raw) == 0 && len(resp.Tables) > 0 {
		raw = resp.Tables[0].Data
	}
	for _, item := range raw {
		if len(item) < 5 || !strings.Contains(item[0], "發行量加權股價指數") {
			continue
		}
		pct, ok := utils.ParseWireFloat(item[4])
		if !ok {
			continue
		}
		if changeIsNegative(item[2]) {
			pct = -abs(pct)
		}
		return pct, nil
	}
	return 0, ErrNoData
}

// --- Institutional spot summary ---

// SpotInstitutional holds the foreign net position on the spot market
// for one trading day, in units of 10^8 TWD.
type SpotInstitutional struct {
	Date        string
	BuyBillion  float64
	SellBillion float64
	NetBillion  float64
}

// ForeignSpot returns the latest foreign-and-mainland net buy/sell from
// the daily institutional trading summary. The row wanted is
// "外資及陸資(不含外資自營商)" - the separate foreign-proprietary row is
// deliberately skipped.
func (t *TWSE) ForeignSpot(ctx context.Context) (*SpotInstitutional, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := t.baseURL + "/rwd/zh/fund/BFI82U?response=json"
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("TWSE fund summary: %w", err)
	}

	var resp twseFundResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse TWSE fund summary: %w", err)
	}
	if resp.Stat != "OK" || len(resp.Data) == 0 {
		return nil, ErrNoData
	}

	date := utils.ISODate(time.Now())
	if len(resp.Date) == 8 {
		date = resp.Date[:4] + "-" + resp.Date[4:6] + "-" + resp.Date[6:8]
	}

	idx := t.spotRowIdx
	if idx < 0 || idx >= len(resp.Data) || !isForeignAggregateRow(resp.Data[idx][0]) {
		idx = -1
		for i, row := range resp.Data {
			if len(row) >= 3 && isForeignAggregateRow(row[0]) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil, ErrNoData
	}
	t.spotRowIdx = idx

	row := resp.Data[idx]
	buy, okB := utils.ParseWireFloat(row[1])
	sell, okS := utils.ParseWireFloat(row[2])
	if !okB || !okS {
		return nil, ErrNoData
	}

	const billion = 1e8
	return &SpotInstitutional{
		Date:        date,
		BuyBillion:  round2(buy / billion),
		SellBillion: round2(sell / billion),
		NetBillion:  round2((buy - sell) / billion),
	}, nil
}

func isForeignAggregateRow(name string) bool {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "外資自營商") {
		return false
	}
	return strings.Contains(name, "外資及陸資")
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

// --- Monthly history (fallback provider) ---

// MonthlyCandles returns all daily candles of one stock for the month
// containing ref. Dates come back in civil-minus-1911 form and are
// converted to ISO.
func (t *TWSE) MonthlyCandles(ctx context.Context, stockID string, ref time.Time) ([]models.Candle, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/exchangeReport/STOCK_DAY?response=json&date=%s&stockNo=%s",
		t.baseURL, utils.CompactDate(ref), stockID)
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("TWSE monthly candles %s: %w", stockID, err)
	}

	var resp twseStockDayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse TWSE monthly candles %s: %w", stockID, err)
	}
	if resp.Stat != "OK" || len(resp.Data) == 0 {
		return nil, ErrNoData
	}

	// Field order: 0 date (ROC), 1 shares, 2 value, 3 open, 4 high,
	// 5 low, 6 close, 7 change, 8 trade count.
	candles := make([]models.Candle, 0, len(resp.Data))
	for _, item := range resp.Data {
		if len(item) < 7 {
			continue
		}
		date := utils.ROCToISO(item[0])
		if date == "" {
			continue
		}
		closePx, ok := utils.ParseWireFloat(item[6])
		if !ok {
			continue
		}
		open, _ := utils.ParseWireFloat(item[3])
		high, _ := utils.ParseWireFloat(item[4])
		low, _ := utils.ParseWireFloat(item[5])
		shares, _ := utils.ParseWireInt(item[1])
		candles = append(candles, models.Candle{
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: shares,
		})
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	return candles, nil
}
