package datasource

import (
	"log/slog"
	"time"

	"github.com/chiehw/twscreener/internal/config"
)

// Service bundles every data client behind one handle. The orchestrator
// and the screening stages share this instance; all per-run caches live
// inside it and Reset clears them between runs.
type Service struct {
	TWSE    *TWSE
	TPEX    *TPEX
	MIS     *MIS
	FinMind *FinMind
	TAIFEX  *TAIFEX
	News    *News

	Reference *Reference
	History   *HistoryStore
	Quotes    *QuoteSource

	log *slog.Logger
}

// NewService wires the full data layer from configuration.
func NewService(cfg *config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.Data.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	twse := NewTWSE(timeout)
	tpex := NewTPEX(timeout)
	mis := NewMIS(timeout)
	finmind := NewFinMind(cfg.Data.FinMindToken, timeout)
	taifex := NewTAIFEX(timeout)
	news := NewNews(cfg.News.Feeds, timeout, log)

	ref := NewReference(finmind, timeout, log)
	history := NewHistoryStore(finmind, twse, tpex, cfg.Data.FetchWorkers, log)
	quotes := NewQuoteSource(mis, twse, tpex, ref, history, log)

	return &Service{
		TWSE:      twse,
		TPEX:      tpex,
		MIS:       mis,
		FinMind:   finmind,
		TAIFEX:    taifex,
		News:      news,
		Reference: ref,
		History:   history,
		Quotes:    quotes,
		log:       log,
	}
}

// Reset drops all per-run caches ahead of a fresh screening run.
func (s *Service) Reset() {
	s.Reference.Reset()
	s.History.Reset()
}
