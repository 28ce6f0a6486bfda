// Package models defines the core data structures shared across the screener.
package models

import "time"

// Market identifies the trading venue of a Taiwan-listed issue.
type Market string

const (
	// MarketTWSE is the main exchange (listed issues).
	MarketTWSE Market = "TWSE"
	// MarketTPEX is the over-the-counter board.
	MarketTPEX Market = "TPEx"
)

// Stock represents basic stock identity information.
// ID is always a 4-digit numeric string for ordinary issues.
type Stock struct {
	ID       string `json:"stock_id"`
	Name     string `json:"stock_name"`
	Market   Market `json:"market"`
	Industry string `json:"industry,omitempty"` // "未分類" when the registry has no entry
}

// Quote represents one realtime (or post-close) quote for a stock.
// Volume is in lots (1 lot = 1,000 shares); the exchange wire format
// reports shares and is converted at ingestion.
type Quote struct {
	Price     float64   `json:"price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	PrevClose float64   `json:"prev_close"`
	Volume    int64     `json:"volume"`
	ChangePct float64   `json:"change_pct"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Candle represents a single daily OHLCV bar. Volume is in shares.
type Candle struct {
	Date   string  `json:"date"` // ISO form YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// InstitutionalFlow is one day of institutional net buy/sell for a stock.
// All quantities are in lots.
type InstitutionalFlow struct {
	Date    string `json:"date"`
	Foreign int64  `json:"foreign"`
	Trust   int64  `json:"trust"`
	Dealer  int64  `json:"dealer"`
	Total   int64  `json:"total"`
}

// HoldingObservation is one weekly observation of the large-holder
// (>= 1000 lots) share percentage from the shareholding distribution.
type HoldingObservation struct {
	Date       string  `json:"date"`
	MajorPct   float64 `json:"major_pct"`
	RetailPct  float64 `json:"retail_pct,omitempty"`
	HolderTier string  `json:"holder_tier,omitempty"`
}

// MonthlyRevenue is one month of reported revenue for a stock.
type MonthlyRevenue struct {
	Month     string  `json:"month"` // YYYY-MM
	Revenue   float64 `json:"revenue"`
	YoYGrowth float64 `json:"yoy_growth_pct"`
}

// QuarterlyEPS is one quarter of reported earnings per share.
type QuarterlyEPS struct {
	Quarter string  `json:"quarter"` // e.g. 2025-Q2
	EPS     float64 `json:"eps"`
}

// FuturesOI is one day of foreign-investor open interest in the
// index futures contract.
type FuturesOI struct {
	Date  string `json:"date"`
	Long  int64  `json:"oi_long"`
	Short int64  `json:"oi_short"`
	Net   int64  `json:"oi_net"`
}

// NewsItem is one market-news headline.
type NewsItem struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Published time.Time `json:"published"`
}
