package datasource

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

const taifexFutContractsURL = "https://www.taifex.com.tw/cht/3/futContractsDate"

// TAIFEX scrapes the futures exchange's daily institutional report. It
// backs up the primary provider for foreign-investor index futures open
// interest when the quota runs out.
type TAIFEX struct {
	baseURL string
	client  *http.Client
}

// NewTAIFEX creates a futures-exchange client.
func NewTAIFEX(timeout time.Duration) *TAIFEX {
	return &TAIFEX{baseURL: taifexFutContractsURL, client: newHTTPClient(timeout)}
}

// ForeignIndexFuturesOI returns foreign investors' open interest in the
// index futures contract on the report date. The report nests three
// investor rows under each contract row; the contract name cell is only
// present on the first of the three.
func (t *TAIFEX) ForeignIndexFuturesOI(ctx context.Context, date time.Time) (models.FuturesOI, error) {
	url := fmt.Sprintf("%s?queryDate=%s", t.baseURL, date.Format("2006/01/02"))
	body, err := getBody(ctx, t.client, url, nil)
	if err != nil {
		return models.FuturesOI{}, fmt.Errorf("TAIFEX contracts report: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.FuturesOI{}, fmt.Errorf("parse TAIFEX contracts report: %w", err)
	}

	var (
		oi       models.FuturesOI
		found    bool
		contract string
	)
	doc.Find("table.table_f tr, table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 14 {
			return true
		}

		// Cell layout: 0 serial, 1 contract, 2 investor type, then paired
		// trade and open-interest columns. Long OI sits at 9, short at 11,
		// net at 13 (lots first, value second in each pair).
		if name := strings.TrimSpace(cells.Eq(1).Text()); name != "" {
			contract = name
		}
		investor := strings.TrimSpace(cells.Eq(2).Text())
		if !strings.Contains(contract, "臺股期貨") || !strings.Contains(investor, "外資") {
			return true
		}

		long, okL := utils.ParseWireInt(cells.Eq(9).Text())
		short, okS := utils.ParseWireInt(cells.Eq(11).Text())
		net, okN := utils.ParseWireInt(cells.Eq(13).Text())
		if !okN {
			if !okL || !okS {
				return true
			}
			net = long - short
		}

		oi = models.FuturesOI{
			Date:  utils.ISODate(date),
			Long:  long,
			Short: short,
			Net:   net,
		}
		found = true
		return false
	})
	if !found {
		return models.FuturesOI{}, ErrNoData
	}
	return oi, nil
}
