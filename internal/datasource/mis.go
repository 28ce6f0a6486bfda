package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

const (
	misBaseURL   = "https://mis.twse.com.tw/stock/api/getStockInfo.jsp"
	misBatchSize = 50
	misBatchGap  = 200 * time.Millisecond
)

// MIS fetches live intraday quotes from the exchange's market
// information system. One request covers up to 50 symbols; both venues
// share the endpoint via the tse_/otc_ channel prefixes.
type MIS struct {
	baseURL string
	client  *http.Client
}

// NewMIS creates an intraday quote client.
func NewMIS(timeout time.Duration) *MIS {
	return &MIS{baseURL: misBaseURL, client: newHTTPClient(timeout)}
}

type misResponse struct {
	MsgArray []misQuote `json:"msgArray"`
	RtCode   string     `json:"rtcode"`
}

type misQuote struct {
	ID        string `json:"c"`
	Name      string `json:"n"`
	Exchange  string `json:"ex"` // "tse" or "otc"
	Last      string `json:"z"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	PrevClose string `json:"y"`
	Volume    string `json:"v"` // accumulated, in lots
}

func misChannel(venue models.Market, id string) string {
	prefix := "tse"
	if venue == models.MarketTPEX {
		prefix = "otc"
	}
	return fmt.Sprintf("%s_%s.tw", prefix, id)
}

// Quotes fetches live quotes for the given symbols of one venue,
// batching 50 symbols per call with a short gap between calls. Symbols
// that have not traded yet are skipped.
func (m *MIS) Quotes(ctx context.Context, venue models.Market, ids []string) ([]models.Row, error) {
	var rows []models.Row
	for start := 0; start < len(ids); start += misBatchSize {
		end := start + misBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		batch, err := m.quoteBatch(ctx, venue, ids[start:end])
		if err != nil {
			// A failed batch loses those symbols only; the snapshot
			// continues with whatever the remaining batches return.
			continue
		}
		rows = append(rows, batch...)

		if end < len(ids) {
			select {
			case <-ctx.Done():
				return rows, ctx.Err()
			case <-time.After(misBatchGap):
			}
		}
	}
	return rows, nil
}

func (m *MIS) quoteBatch(ctx context.Context, venue models.Market, ids []string) ([]models.Row, error) {
	channels := make([]string, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, misChannel(venue, id))
	}

	u := fmt.Sprintf("%s?ex_ch=%s&json=1&delay=0",
		m.baseURL, url.QueryEscape(strings.Join(channels, "|")))
	body, err := getBody(ctx, m.client, u, nil)
	if err != nil {
		return nil, fmt.Errorf("MIS quotes: %w", err)
	}

	var resp misResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse MIS quotes: %w", err)
	}
	if len(resp.MsgArray) == 0 {
		return nil, ErrNoData
	}

	rows := make([]models.Row, 0, len(resp.MsgArray))
	for _, q := range resp.MsgArray {
		row, ok := parseMISQuote(q, venue)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseMISQuote(q misQuote, venue models.Market) (models.Row, bool) {
	id := strings.TrimSpace(q.ID)
	if !utils.IsValidStockID(id) {
		return models.Row{}, false
	}

	price, ok := utils.ParseWireFloat(q.Last)
	if !ok || price <= 0 {
		return models.Row{}, false
	}
	prevClose, ok := utils.ParseWireFloat(q.PrevClose)
	if !ok || prevClose <= 0 {
		return models.Row{}, false
	}

	open, ok := utils.ParseWireFloat(q.Open)
	if !ok {
		open = price
	}
	high, ok := utils.ParseWireFloat(q.High)
	if !ok {
		high = price
	}
	low, ok := utils.ParseWireFloat(q.Low)
	if !ok {
		low = price
	}
	lots, _ := utils.ParseWireInt(q.Volume)

	return models.Row{
		Stock: models.Stock{
			ID:     id,
			Name:   strings.TrimSpace(q.Name),
			Market: venue,
		},
		Quote: models.Quote{
			Price:     price,
			Open:      open,
			High:      high,
			Low:       low,
			PrevClose: prevClose,
			Volume:    lots,
			ChangePct: changePct(price, prevClose),
		},
	}, true
}
