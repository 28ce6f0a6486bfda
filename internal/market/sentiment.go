package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chiehw/twscreener/internal/datasource"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

// SpotSource serves the exchange's daily institutional spot summary.
type SpotSource interface {
	ForeignSpot(ctx context.Context) (*datasource.SpotInstitutional, error)
}

// FuturesSource serves foreign index-futures open interest from the
// primary provider.
type FuturesSource interface {
	ForeignFuturesOI(ctx context.Context) ([]models.FuturesOI, error)
}

// FuturesFallback scrapes one day of the same figures from the futures
// exchange's report.
type FuturesFallback interface {
	ForeignIndexFuturesOI(ctx context.Context, date time.Time) (models.FuturesOI, error)
}

// SentimentAnalyzer cross-reads foreign spot buying against futures
// positioning. Either side may be missing; the label degrades to
// UNKNOWN rather than failing the run.
type SentimentAnalyzer struct {
	spot     SpotSource
	futures  FuturesSource
	fallback FuturesFallback
	log      *slog.Logger
}

// NewSentimentAnalyzer creates the analyzer.
func NewSentimentAnalyzer(spot SpotSource, futures FuturesSource, fallback FuturesFallback, log *slog.Logger) *SentimentAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &SentimentAnalyzer{spot: spot, futures: futures, fallback: fallback, log: log}
}

// Analyze produces today's foreign sentiment read.
func (a *SentimentAnalyzer) Analyze(ctx context.Context) *models.ForeignSentiment {
	out := &models.ForeignSentiment{
		Label: models.SentimentUnknown,
		Date:  utils.ISODate(utils.NowTaipei()),
	}

	spotOK := false
	if spot, err := a.spot.ForeignSpot(ctx); err != nil {
		a.log.Warn("foreign spot summary unavailable", "err", err)
	} else {
		spotOK = true
		out.SpotNetBillion = spot.NetBillion
		out.SpotDirection = direction(spot.NetBillion)
		out.Date = spot.Date
	}

	oiChange, futuresOK := a.futuresOIChange(ctx)
	if futuresOK {
		out.FuturesOIChange = oiChange
		out.FuturesDirection = direction(float64(oiChange))
	}

	if spotOK && futuresOK {
		out.Label = classify(out.SpotNetBillion, oiChange)
	}
	out.Detail = detail(out, spotOK, futuresOK)
	return out
}

// futuresOIChange returns net-OI change across the two most recent
// days, or the absolute net when only one day exists.
func (a *SentimentAnalyzer) futuresOIChange(ctx context.Context) (int64, bool) {
	if series, err := a.futures.ForeignFuturesOI(ctx); err == nil && len(series) > 0 {
		if len(series) == 1 {
			return series[0].Net, true
		}
		latest := series[len(series)-1]
		prior := series[len(series)-2]
		return latest.Net - prior.Net, true
	} else if err != nil {
		a.log.Warn("primary futures OI unavailable, trying exchange report", "err", err)
	}

	if a.fallback == nil {
		return 0, false
	}
	days := a.recentReportDays(ctx, 2)
	switch len(days) {
	case 0:
		return 0, false
	case 1:
		return days[0].Net, true
	default:
		return days[0].Net - days[1].Net, true
	}
}

// recentReportDays walks back from today collecting up to want report
// days from the futures exchange, newest first.
func (a *SentimentAnalyzer) recentReportDays(ctx context.Context, want int) []models.FuturesOI {
	var out []models.FuturesOI
	date := utils.NowTaipei()
	for tries := 0; tries < 7 && len(out) < want; tries++ {
		if utils.IsWeekday(date) {
			if oi, err := a.fallback.ForeignIndexFuturesOI(ctx, date); err == nil {
				out = append(out, oi)
			}
		}
		date = date.AddDate(0, 0, -1)
	}
	return out
}

func direction(v float64) string {
	switch {
	case v > 0:
		return "buy"
	case v < 0:
		return "sell"
	}
	return "flat"
}

// classify maps the sign pair to the four-way label. Spot buying with a
// long build is conviction; spot selling with a long build reads as
// bottom-fishing through derivatives. A flat side counts as selling.
func classify(spotNet float64, oiChange int64) models.Sentiment {
	switch {
	case spotNet > 0 && oiChange > 0:
		return models.SentimentBullish
	case spotNet > 0:
		return models.SentimentHedge
	case oiChange <= 0:
		return models.SentimentBearish
	default:
		return models.SentimentBottom
	}
}

func detail(s *models.ForeignSentiment, spotOK, futuresOK bool) string {
	switch {
	case spotOK && futuresOK:
		return fmt.Sprintf("spot %+.1f億, futures OI %+d", s.SpotNetBillion, s.FuturesOIChange)
	case spotOK:
		return fmt.Sprintf("spot %+.1f億, futures unavailable", s.SpotNetBillion)
	case futuresOK:
		return fmt.Sprintf("futures OI %+d, spot unavailable", s.FuturesOIChange)
	}
	return "no data"
}
