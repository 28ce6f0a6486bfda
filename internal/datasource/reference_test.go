package datasource

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"github.com/chiehw/twscreener/pkg/models"
)

// registryPage renders a minimal registry table and encodes it the way
// the live endpoint does (MS-950).
func registryPage(t *testing.T, rows string) []byte {
	t.Helper()
	page := `<html><body><table class="h4">
		<tr><td>有價證券代號及名稱</td><td>ISIN</td><td>上市日</td><td>市場別</td><td>產業別</td><td>CFICode</td><td>備註</td></tr>
		` + rows + `
	</table></body></html>`

	var buf bytes.Buffer
	w := transform.NewWriter(&buf, traditionalchinese.Big5.NewEncoder())
	if _, err := w.Write([]byte(page)); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	w.Close()
	return buf.Bytes()
}

func TestReferenceRegistry(t *testing.T) {
	twseRows := `<tr><td>2330　台積電</td><td>TW0002330008</td><td>1994/09/05</td><td>上市</td><td>半導體業</td><td>ESVUFR</td><td></td></tr>
		<tr><td>1101　台泥</td><td>TW0001101004</td><td>1962/02/09</td><td>上市</td><td>水泥工業</td><td>ESVUFR</td><td></td></tr>
		<tr><td>00878　國泰永續高股息</td><td>TW00008788888</td><td>2020/07/20</td><td>上市</td><td></td><td>CEOGEU</td><td></td></tr>`
	tpexRows := `<tr><td>3105　穩懋</td><td>TW0003105008</td><td>2001/04/17</td><td>上櫃</td><td>半導體業</td><td>ESVUFR</td><td></td></tr>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("strMode") == "2" {
			w.Write(registryPage(t, twseRows))
			return
		}
		w.Write(registryPage(t, tpexRows))
	}))
	defer srv.Close()

	ref := NewReference(nil, 5*time.Second, nil)
	ref.isinURL = srv.URL

	ctx := context.Background()
	listed := ref.Universe(ctx, models.MarketTWSE)
	if len(listed) != 2 {
		t.Fatalf("TWSE universe = %v, want 2 ids", listed)
	}
	if listed[0] != "1101" || listed[1] != "2330" {
		t.Errorf("universe not sorted: %v", listed)
	}
	otc := ref.Universe(ctx, models.MarketTPEX)
	if len(otc) != 1 || otc[0] != "3105" {
		t.Errorf("TPEx universe = %v", otc)
	}

	if got := ref.Industry(ctx, "2330"); got != "半導體業" {
		t.Errorf("industry(2330) = %s", got)
	}
	if got := ref.Industry(ctx, "9999"); got != UnclassifiedIndustry {
		t.Errorf("industry(miss) = %s, want %s", got, UnclassifiedIndustry)
	}
}

func TestReferenceCapsDegradeToEmpty(t *testing.T) {
	quota := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer quota.Close()

	ref := NewReference(newTestFinMind(quota.URL), 5*time.Second, nil)
	caps := ref.MarketCaps(context.Background())
	if caps == nil {
		t.Fatal("caps must be an empty map, not nil")
	}
	if len(caps) != 0 {
		t.Errorf("caps = %d entries, want 0", len(caps))
	}
}
