package models

// MarketStatus summarizes the moving-average posture of one index,
// proxied by a large ETF tracking it.
type MarketStatus struct {
	Index        Market          `json:"index"`
	CurrentPrice float64         `json:"current_price"`
	MAValues     map[int]float64 `json:"ma_values"`
	AboveMA      map[int]bool    `json:"above_ma"`
	IsBullish    bool            `json:"is_bullish"`
	BrokenMA     []int           `json:"broken_ma"`
}

// Sentiment is the four-way foreign-flow classification from the
// spot net-buy x futures open-interest cross-read.
type Sentiment string

const (
	SentimentBullish Sentiment = "BULLISH" // spot buy + futures long build
	SentimentHedge   Sentiment = "HEDGE"   // spot buy + futures short build
	SentimentBearish Sentiment = "BEARISH" // spot sell + futures short build
	SentimentBottom  Sentiment = "BOTTOM"  // spot sell + futures long build
	SentimentUnknown Sentiment = "UNKNOWN" // one or both sides unavailable
)

// ForeignSentiment is the result of the foreign-flow cross-read.
// SpotNetBillion is in units of 10^8 TWD.
type ForeignSentiment struct {
	Label            Sentiment `json:"sentiment"`
	SpotNetBillion   float64   `json:"spot_net_billion"`
	SpotDirection    string    `json:"spot_direction"`
	FuturesOIChange  int64     `json:"futures_oi_change"`
	FuturesDirection string    `json:"futures_direction"`
	Date             string    `json:"date"`
	Detail           string    `json:"detail"`
}

// AccumulationAnalysis summarizes institutional behavior for one stock
// over a 20-day window. All sums are in lots; stability is
// stddev / |mean+1| of the recent daily nets (smaller is steadier).
type AccumulationAnalysis struct {
	StockID string `json:"stock_id"`
	Days    int    `json:"data_days"`

	ForeignConsecutiveBuy int `json:"foreign_consecutive_buy"`
	TrustConsecutiveBuy   int `json:"trust_consecutive_buy"`

	Foreign5DSum  int64 `json:"foreign_5d_sum"`
	Foreign10DSum int64 `json:"foreign_10d_sum"`
	Foreign20DSum int64 `json:"foreign_20d_sum"`
	Trust5DSum    int64 `json:"trust_5d_sum"`
	Trust10DSum   int64 `json:"trust_10d_sum"`
	Trust20DSum   int64 `json:"trust_20d_sum"`

	ForeignStability float64 `json:"foreign_stability"`
	TrustStability   float64 `json:"trust_stability"`

	IsForeignQuietlyBuying bool   `json:"is_foreign_quietly_buying"`
	IsTrustQuietlyBuying   bool   `json:"is_trust_quietly_buying"`
	IsQuietlyBuying        bool   `json:"is_quietly_buying"`
	BehaviorType           string `json:"behavior_type"`
}

// MaxConsecutive returns the larger of the foreign and trust buy runs.
func (a AccumulationAnalysis) MaxConsecutive() int {
	if a.ForeignConsecutiveBuy > a.TrustConsecutiveBuy {
		return a.ForeignConsecutiveBuy
	}
	return a.TrustConsecutiveBuy
}
