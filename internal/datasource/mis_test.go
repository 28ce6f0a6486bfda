package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chiehw/twscreener/pkg/models"
)

func TestParseMISQuote(t *testing.T) {
	row, ok := parseMISQuote(misQuote{
		ID: "2330", Name: "台積電", Last: "1050.00", Open: "1040.00",
		High: "1055.00", Low: "1035.00", PrevClose: "1040.00", Volume: "25,000",
	}, models.MarketTWSE)
	if !ok {
		t.Fatal("expected quote to parse")
	}
	if row.Quote.Volume != 25000 {
		t.Errorf("volume = %d lots, want 25000", row.Quote.Volume)
	}
	if row.Quote.ChangePct <= 0.95 || row.Quote.ChangePct >= 0.97 {
		t.Errorf("change pct = %v, want ~0.96", row.Quote.ChangePct)
	}
}

func TestParseMISQuoteNotTraded(t *testing.T) {
	// A symbol with no trade yet carries "-" in the last-price field.
	if _, ok := parseMISQuote(misQuote{
		ID: "2330", Last: "-", PrevClose: "1040.00",
	}, models.MarketTWSE); ok {
		t.Error("expected untraded quote to drop")
	}
}

func TestMISQuotesBatching(t *testing.T) {
	var urls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urls = append(urls, r.URL.RawQuery)
		w.Write([]byte(`{"rtcode":"0000","msgArray":[
			{"c":"2330","n":"台積電","ex":"tse","z":"1050.00","o":"1040.00","h":"1055.00","l":"1035.00","y":"1040.00","v":"25000"}
		]}`))
	}))
	defer srv.Close()

	m := NewMIS(5 * time.Second)
	m.baseURL = srv.URL

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = "2330"
	}
	rows, err := m.Quotes(context.Background(), models.MarketTWSE, ids)
	if err != nil {
		t.Fatalf("Quotes: %v", err)
	}
	// 120 ids -> 3 batches of <= 50, one parsed row each.
	if len(urls) != 3 {
		t.Errorf("requests = %d, want 3", len(urls))
	}
	if len(rows) != 3 {
		t.Errorf("rows = %d, want 3", len(rows))
	}
}

func TestMISChannel(t *testing.T) {
	if got := misChannel(models.MarketTWSE, "2330"); got != "tse_2330.tw" {
		t.Errorf("channel = %s", got)
	}
	if got := misChannel(models.MarketTPEX, "3105"); got != "otc_3105.tw" {
		t.Errorf("channel = %s", got)
	}
}
