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
	tpexBaseURL = "https://www.tpex.org.tw"
	tpexRate    = 3
)

// TPEX fetches over-the-counter market data. Its endpoints accept dates
// only in the civil-minus-1911 "YYY/MM/DD" form.
type TPEX struct {
	baseURL string
	client  *http.Client
	limiter *infra.RateLimiter
}

// NewTPEX creates an OTC-market client.
func NewTPEX(timeout time.Duration) *TPEX {
	return &TPEX{
		baseURL: tpexBaseURL,
		client:  newHTTPClient(timeout),
		limiter: infra.NewRateLimiter(tpexRate, time.Second),
	}
}

type tpexDailyResponse struct {
	Tables []twseRawTable `json:"tables"`
	AAData [][]string     `json:"aaData"` // legacy variant
}

type tpexMonthlyResponse struct {
	AAData [][]string     `json:"aaData"`
	Tables []twseRawTable `json:"tables"`
}

// DailyQuotes returns the post-close daily snapshot for every OTC
// ordinary issue.
func (t *TPEX) DailyQuotes(ctx context.Context) ([]models.Row, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf(
		"%s/web/stock/aftertrading/otc_quotes_no1430/stk_wn1430_result.php?l=zh-tw&d=%s&se=EW",
		t.baseURL, utils.ROCDate(time.Now()))
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("TPEx daily quotes: %w", err)
	}

	var resp tpexDailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse TPEx daily quotes: %w", err)
	}

	var raw [][]string
	if len(resp.Tables) > 0 {
		raw = resp.Tables[0].Data
	}
	if len(raw) == 0 {
		raw = resp.AAData
	}
	if len(raw) == 0 {
		return nil, ErrNoData
	}

	rows := make([]models.Row, 0, len(raw))
	for _, item := range raw {
		row, ok := parseTPEXQuoteRow(item)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseTPEXQuoteRow converts one OTC quote row. Field order:
// 0 id, 1 name, 2 close, 3 change amount, 4 open, 5 high, 6 low,
// 7 shares traded.
func parseTPEXQuoteRow(item []string) (models.Row, bool) {
	if len(item) < 8 {
		return models.Row{}, false
	}
	id := strings.TrimSpace(item[0])
	if !utils.IsValidStockID(id) {
		return models.Row{}, false
	}

	price, ok := utils.ParseWireFloat(item[2])
	if !ok || price <= 0 {
		return models.Row{}, false
	}

	change, _ := utils.ParseWireFloat(item[3])
	prevClose := price - change

	open, ok := utils.ParseWireFloat(item[4])
	if !ok {
		open = price
	}
	high, ok := utils.ParseWireFloat(item[5])
	if !ok {
		high = price
	}
	low, ok := utils.ParseWireFloat(item[6])
	if !ok {
		low = price
	}
	shares, _ := utils.ParseWireInt(item[7])

	return models.Row{
		Stock: models.Stock{
			ID:     id,
			Name:   strings.TrimSpace(item[1]),
			Market: models.MarketTPEX,
		},
		Quote: models.Quote{
			Price:     price,
			Open:      open,
			High:      high,
			Low:       low,
			PrevClose: prevClose,
			Volume:    shares / 1000,
			ChangePct: changePct(price, prevClose),
		},
	}, true
}

// MonthlyCandles returns all daily candles of one OTC stock for the
// month containing ref. The endpoint reports volume in thousands of
// shares; it is normalized back to shares here.
func (t *TPEX) MonthlyCandles(ctx context.Context, stockID string, ref time.Time) ([]models.Candle, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf(
		"%s/web/stock/aftertrading/daily_trading_info/st43_result.php?l=zh-tw&d=%s&stkno=%s",
		t.baseURL, utils.ROCMonth(ref), stockID)
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("TPEx monthly candles %s: %w", stockID, err)
	}

	var resp tpexMonthlyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse TPEx monthly candles %s: %w", stockID, err)
	}

	raw := resp.AAData
	if len(raw) == 0 && len(resp.Tables) > 0 {
		raw = resp.Tables[0].Data
	}
	if len(raw) == 0 {
		return nil, ErrNoData
	}

	// Field order: 0 date (ROC), 1 volume (thousand shares), 2 value,
	// 3 open, 4 high, 5 low, 6 close, 7 change, 8 trade count.
	candles := make([]models.Candle, 0, len(raw))
	for _, item := range raw {
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
		kShares, _ := utils.ParseWireInt(item[1])
		candles = append(candles, models.Candle{
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: kShares * 1000,
		})
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	return candles, nil
}
