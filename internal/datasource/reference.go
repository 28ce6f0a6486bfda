package datasource

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"github.com/chiehw/twscreener/pkg/models"
)

const (
	isinBaseURL = "https://isin.twse.com.tw/isin/C_public.jsp"

	// UnclassifiedIndustry marks a ticker absent from the registry.
	UnclassifiedIndustry = "未分類"
)

// issueIDPattern extracts the 4-digit id from the registry's combined
// "code<fullwidth-space>name" cell.
var issueIDPattern = regexp.MustCompile(`^(\d{4})[\s\x{3000}]`)

// Reference serves run-scoped reference data: market capitalization,
// shares outstanding and industry classification. Each cache fills once
// per run under a single-writer lock and is read-many afterwards.
type Reference struct {
	finmind *FinMind
	client  *http.Client
	isinURL string
	log     *slog.Logger

	mu        sync.Mutex
	caps      map[string]float64
	capsDone  bool
	shares    map[string]int64
	sharesDone bool
	industry  map[string]string
	universe  map[models.Market][]string
	indDone   bool
}

// NewReference creates the reference-data store.
func NewReference(finmind *FinMind, timeout time.Duration, log *slog.Logger) *Reference {
	if log == nil {
		log = slog.Default()
	}
	return &Reference{
		finmind: finmind,
		client:  newHTTPClient(timeout),
		isinURL: isinBaseURL,
		log:     log,
	}
}

// Reset drops the run-scoped caches.
func (r *Reference) Reset() {
	r.mu.Lock()
	r.caps, r.capsDone = nil, false
	r.shares, r.sharesDone = nil, false
	r.industry, r.universe, r.indDone = nil, nil, false
	r.mu.Unlock()
}

// MarketCaps returns the latest market capitalization snapshot in
// hundred-millions of TWD. An empty map means the provider had nothing;
// consumers fall back to the traded-value proxy.
func (r *Reference) MarketCaps(ctx context.Context) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capsDone {
		return r.caps
	}
	caps, err := r.finmind.MarketCapSnapshot(ctx)
	if err != nil {
		r.log.Warn("market cap snapshot unavailable", "err", err)
		caps = map[string]float64{}
	}
	r.caps, r.capsDone = caps, true
	return r.caps
}

// SharesOutstanding returns the latest issued-share count per stock.
func (r *Reference) SharesOutstanding(ctx context.Context) map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sharesDone {
		return r.shares
	}
	shares, err := r.finmind.SharesOutstanding(ctx)
	if err != nil {
		r.log.Warn("shares outstanding unavailable", "err", err)
		shares = map[string]int64{}
	}
	r.shares, r.sharesDone = shares, true
	return r.shares
}

// Industry returns the industry label for one stock, or 未分類 on miss.
func (r *Reference) Industry(ctx context.Context, id string) string {
	m := r.IndustryMap(ctx)
	if ind, ok := m[id]; ok && ind != "" {
		return ind
	}
	return UnclassifiedIndustry
}

// IndustryMap returns the full id -> industry mapping assembled from the
// two registry pages.
func (r *Reference) IndustryMap(ctx context.Context) map[string]string {
	r.ensureRegistry(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.industry
}

// Universe returns every ordinary-issue id listed on one venue, sorted,
// from the securities registry. The intraday quote path uses this as its
// symbol list.
func (r *Reference) Universe(ctx context.Context, venue models.Market) []string {
	r.ensureRegistry(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.universe[venue]
}

func (r *Reference) ensureRegistry(ctx context.Context) {
	r.mu.Lock()
	if r.indDone {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	industry := make(map[string]string)
	universe := make(map[models.Market][]string)
	for venue, mode := range map[models.Market]int{
		models.MarketTWSE: 2,
		models.MarketTPEX: 4,
	} {
		ids, err := r.fetchRegistryPage(ctx, mode, industry)
		if err != nil {
			r.log.Warn("registry page unavailable", "venue", venue, "err", err)
			continue
		}
		sort.Strings(ids)
		universe[venue] = ids
	}

	r.mu.Lock()
	r.industry = industry
	r.universe = universe
	r.indDone = true
	r.mu.Unlock()
}

// fetchRegistryPage parses one MS-950 encoded registry page, collecting
// 4-digit ids (first cell) and their industry label (fifth cell).
func (r *Reference) fetchRegistryPage(ctx context.Context, mode int, industry map[string]string) ([]string, error) {
	url := fmt.Sprintf("%s?strMode=%d", r.isinURL, mode)
	body, err := getBody(ctx, r.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("registry page: %w", err)
	}

	decoded := transform.NewReader(bytes.NewReader(body), traditionalchinese.Big5.NewDecoder())
	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return nil, fmt.Errorf("parse registry page: %w", err)
	}

	var ids []string
	doc.Find("table.h4 tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		head := strings.TrimSpace(cells.Eq(0).Text())
		m := issueIDPattern.FindStringSubmatch(head)
		if m == nil {
			return
		}
		id := m[1]
		ids = append(ids, id)
		if label := strings.TrimSpace(cells.Eq(4).Text()); label != "" {
			industry[id] = label
		}
	})
	if len(ids) == 0 {
		return nil, ErrNoData
	}
	return ids, nil
}
