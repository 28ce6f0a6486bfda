package datasource

import (
	"context"
	"log/slog"
	"time"

	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// venueGap spaces the two venue sweeps so the intraday endpoint is never
// hit for both boards back to back.
const venueGap = 500 * time.Millisecond

// QuoteSource assembles the full-universe quote snapshot that seeds
// every screening run. During the session it walks the registry universe
// through the intraday endpoint; when that yields nothing (or after the
// close) it falls back to the exchanges' post-close tables.
type QuoteSource struct {
	mis     *MIS
	twse    *TWSE
	tpex    *TPEX
	ref     *Reference
	history *HistoryStore
	log     *slog.Logger
}

// NewQuoteSource creates the snapshot assembler.
func NewQuoteSource(mis *MIS, twse *TWSE, tpex *TPEX, ref *Reference, history *HistoryStore, log *slog.Logger) *QuoteSource {
	if log == nil {
		log = slog.Default()
	}
	return &QuoteSource{mis: mis, twse: twse, tpex: tpex, ref: ref, history: history, log: log}
}

// Snapshot returns the merged quote snapshot for both venues. Each row
// carries its industry label and every id is registered with the history
// store so fallback history routes to the right venue.
func (q *QuoteSource) Snapshot(ctx context.Context) ([]models.Row, error) {
	now := utils.NowTaipei()
	stamp := now

	var all []models.Row
	for i, venue := range []models.Market{models.MarketTWSE, models.MarketTPEX} {
		if i > 0 {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-time.After(venueGap):
			}
		}

		rows := q.venueSnapshot(ctx, venue, now)
		q.log.Info("venue snapshot", "venue", venue, "rows", len(rows))
		all = append(all, rows...)
	}
	if len(all) == 0 {
		return nil, ErrNoData
	}

	industries := q.ref.IndustryMap(ctx)
	for i := range all {
		row := &all[i]
		row.Quote.Timestamp = stamp
		if ind, ok := industries[row.ID]; ok && ind != "" {
			row.Industry = ind
		} else {
			row.Industry = UnclassifiedIndustry
		}
		if q.history != nil {
			q.history.SetVenue(row.ID, row.Market)
		}
	}
	return all, nil
}

// venueSnapshot fetches one venue, intraday first, post-close table on
// an empty intraday result.
func (q *QuoteSource) venueSnapshot(ctx context.Context, venue models.Market, now time.Time) []models.Row {
	if q.intradayWindow(now) {
		ids := q.ref.Universe(ctx, venue)
		if len(ids) > 0 {
			rows, err := q.mis.Quotes(ctx, venue, ids)
			if err != nil {
				q.log.Warn("intraday quotes failed", "venue", venue, "err", err)
			}
			if len(rows) > 0 {
				return rows
			}
		}
	}

	rows, err := q.postClose(ctx, venue)
	if err != nil {
		q.log.Warn("post-close quotes failed", "venue", venue, "err", err)
		return nil
	}
	return rows
}

func (q *QuoteSource) postClose(ctx context.Context, venue models.Market) ([]models.Row, error) {
	if venue == models.MarketTPEX {
		return q.tpex.DailyQuotes(ctx)
	}
	return q.twse.DailyQuotes(ctx)
}

// intradayWindow reports whether the live endpoint is worth asking:
// weekday between the open and shortly after the close.
func (q *QuoteSource) intradayWindow(now time.Time) bool {
	if !utils.IsWeekday(now) {
		return false
	}
	open := utils.MarketOpenTime(now)
	cutoff := utils.MarketCloseTime(now).Add(30 * time.Minute)
	return !now.Before(open) && now.Before(cutoff)
}
