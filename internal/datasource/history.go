package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// providerMode is the history store's provider state. The store starts
// on the primary provider and latches into fallback-only mode for the
// rest of the run on quota exhaustion or repeated failure; it never
// transitions back within a run.
type providerMode int

const (
	primaryActive providerMode = iota
	fallbackOnly
)

const maxConsecutiveFailures = 3

// HistoryStore serves daily OHLCV history with a primary -> fallback
// provider arrangement and a per-run (id, days) memo. History never
// returns an error: an empty slice stands in for every failure mode and
// each stage applies its own drop-or-pass policy.
type HistoryStore struct {
	primary *FinMind
	twse    *TWSE
	tpex    *TPEX
	log     *slog.Logger
	workers int

	mu          sync.Mutex
	cache       map[string][]models.Candle
	venues      map[string]models.Market
	mode        providerMode
	fails       int
	latchReason string
}

// NewHistoryStore creates a history store over the given providers.
func NewHistoryStore(primary *FinMind, twse *TWSE, tpex *TPEX, workers int, log *slog.Logger) *HistoryStore {
	if workers <= 0 {
		workers = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &HistoryStore{
		primary: primary,
		twse:    twse,
		tpex:    tpex,
		log:     log,
		workers: workers,
		cache:   make(map[string][]models.Candle),
		venues:  make(map[string]models.Market),
	}
}

// SetVenue records the trading venue of a stock so the fallback provider
// can pick the right monthly endpoint. The quote snapshot registers the
// whole universe up front.
func (h *HistoryStore) SetVenue(id string, venue models.Market) {
	h.mu.Lock()
	h.venues[id] = venue
	h.mu.Unlock()
}

// FallbackOnly reports whether the store has latched away from the
// primary provider for this run.
func (h *HistoryStore) FallbackOnly() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode == fallbackOnly
}

// LatchReason returns why the store latched, or "" while primary is
// active.
func (h *HistoryStore) LatchReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latchReason
}

// Reset clears the per-run cache and provider state for a fresh run.
func (h *HistoryStore) Reset() {
	h.mu.Lock()
	h.cache = make(map[string][]models.Candle)
	h.mode = primaryActive
	h.fails = 0
	h.latchReason = ""
	h.mu.Unlock()
}

// History returns the last days daily candles for one stock, ascending
// by date, deduplicated, length <= days. Failures yield an empty slice.
func (h *HistoryStore) History(ctx context.Context, id string, days int) []models.Candle {
	key := fmt.Sprintf("%s:%d", id, days)

	h.mu.Lock()
	if cached, ok := h.cache[key]; ok {
		h.mu.Unlock()
		return cached
	}
	mode := h.mode
	h.mu.Unlock()

	var candles []models.Candle
	if mode == primaryActive {
		var err error
		candles, err = h.primary.DailyCandles(ctx, id, days)
		h.observePrimary(err)
		if err != nil {
			candles = nil
		}
	}
	if len(candles) == 0 {
		candles = h.fallbackHistory(ctx, id, days)
	}

	h.mu.Lock()
	h.cache[key] = candles
	h.mu.Unlock()
	return candles
}

// Prefetch warms the cache for a batch of ids concurrently. Stage
// predicates stay sequential and order-preserving; only the cache fill
// fans out.
func (h *HistoryStore) Prefetch(ctx context.Context, ids []string, days int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for _, id := range ids {
		g.Go(func() error {
			h.History(gctx, id, days)
			return nil
		})
	}
	g.Wait()
}

// observePrimary advances the latch state machine after one primary
// call. Quota exhaustion latches immediately; otherwise three
// consecutive failures latch. ErrNoData counts as a clean miss.
func (h *HistoryStore) observePrimary(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mode == fallbackOnly {
		return
	}
	switch {
	case err == nil, errors.Is(err, ErrNoData):
		h.fails = 0
	case errors.Is(err, ErrQuotaExceeded):
		h.mode = fallbackOnly
		h.latchReason = "primary provider quota exceeded"
		h.log.Warn("history store latched to fallback provider", "reason", h.latchReason)
	default:
		h.fails++
		if h.fails >= maxConsecutiveFailures {
			h.mode = fallbackOnly
			h.latchReason = fmt.Sprintf("%d consecutive primary failures", h.fails)
			h.log.Warn("history store latched to fallback provider", "reason", h.latchReason)
		}
	}
}

// fallbackHistory assembles history from the month-keyed exchange
// endpoints: ceil(days/20)+1 monthly queries, merged, deduplicated by
// date, sorted ascending and tailed to days.
func (h *HistoryStore) fallbackHistory(ctx context.Context, id string, days int) []models.Candle {
	months := days/20 + 1
	if days%20 != 0 {
		months++
	}

	now := utils.NowTaipei()
	var merged []models.Candle
	for i := 0; i < months; i++ {
		ref := now.AddDate(0, -i, 0)
		monthly, err := h.monthlyCandles(ctx, id, ref)
		if err != nil {
			continue
		}
		merged = append(merged, monthly...)
	}
	if len(merged) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(merged))
	out := merged[:0]
	for _, c := range merged {
		if seen[c.Date] {
			continue
		}
		seen[c.Date] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if len(out) > days {
		out = out[len(out)-days:]
	}
	return out
}

// monthlyCandles routes one monthly query to the right venue. When the
// venue is unknown it probes the main exchange first and remembers
// whichever answered.
func (h *HistoryStore) monthlyCandles(ctx context.Context, id string, ref time.Time) ([]models.Candle, error) {
	h.mu.Lock()
	venue, known := h.venues[id]
	h.mu.Unlock()

	if known {
		if venue == models.MarketTPEX {
			return h.tpex.MonthlyCandles(ctx, id, ref)
		}
		return h.twse.MonthlyCandles(ctx, id, ref)
	}

	candles, err := h.twse.MonthlyCandles(ctx, id, ref)
	if err == nil {
		h.SetVenue(id, models.MarketTWSE)
		return candles, nil
	}
	candles, err = h.tpex.MonthlyCandles(ctx, id, ref)
	if err == nil {
		h.SetVenue(id, models.MarketTPEX)
	}
	return candles, err
}
