package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chiehw/twscreener/internal/tracker"
	"github.com/chiehw/twscreener/pkg/models"
	"github.com/chiehw/twscreener/pkg/utils"
)

const (
	// maxEmbedFields is the webhook's per-embed field limit.
	maxEmbedFields = 25
	// maxContentLen is the webhook's message body limit.
	maxContentLen = 2000

	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C
	colorYellow = 0xF1C40F
	colorGray   = 0x95A5A6
)

// EmbedField is one name/value pair inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is one rich block in a webhook message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedFooter is the small trailing line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Notifier posts run summaries to a chat webhook. A notifier with an
// empty URL is a no-op, so callers never need to branch on whether
// notification is configured.
type Notifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewNotifier creates a notifier for the given webhook URL ("" disables).
func NewNotifier(url string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Send posts a message. Content is truncated to the webhook's limit and
// each embed is capped at the field limit.
func (n *Notifier) Send(ctx context.Context, content string, embeds ...Embed) error {
	if !n.Enabled() {
		return nil
	}
	if len(content) > maxContentLen {
		content = content[:maxContentLen-3] + "..."
	}
	for i := range embeds {
		if len(embeds[i].Fields) > maxEmbedFields {
			embeds[i].Fields = embeds[i].Fields[:maxEmbedFields]
		}
	}

	body, err := json.Marshal(webhookPayload{Content: content, Embeds: embeds})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// NotifyResults posts the screening outcome for one chain: the stage
// funnel plus one field per surviving row.
func (n *Notifier) NotifyResults(ctx context.Context, mode string, sentiment *models.ForeignSentiment, batch *models.Batch, stats []models.StageStat) error {
	if !n.Enabled() {
		return nil
	}

	embed := Embed{
		Title:     fmt.Sprintf("盤後篩選 (%s) %s", mode, utils.ISODate(utils.NowTaipei())),
		Color:     colorGray,
		Timestamp: utils.NowTaipei().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "twscreener"},
	}
	if sentiment != nil {
		embed.Description = fmt.Sprintf("外資情緒 **%s** — %s", sentiment.Label, sentiment.Detail)
		embed.Color = sentimentColor(sentiment.Label)
	}

	if batch.Empty() {
		embed.Fields = append(embed.Fields, EmbedField{
			Name: "結果", Value: "今日無符合條件的標的",
		})
	}
	for i := range batch.Rows {
		row := &batch.Rows[i]
		embed.Fields = append(embed.Fields, EmbedField{
			Name: fmt.Sprintf("#%d %s %s", row.Rank, row.ID, row.Name),
			Value: fmt.Sprintf("%.2f (%+.2f%%)  %d 張  %s",
				row.Price, row.ChangePct, row.Volume, row.Industry),
			Inline: true,
		})
	}

	if len(stats) == 0 {
		return n.Send(ctx, "", embed)
	}
	var funnel strings.Builder
	for _, s := range stats {
		fmt.Fprintf(&funnel, "%02d %s: %d → %d (%.1f%%)\n",
			s.Step, s.Name, s.InputCount, s.OutputCount, s.PassRate())
	}
	steps := Embed{
		Title:       "篩選步驟",
		Description: funnel.String(),
		Color:       colorGray,
	}
	return n.Send(ctx, "", embed, steps)
}

// NotifyPool posts the bullish-pool membership change.
func (n *Notifier) NotifyPool(ctx context.Context, diff *tracker.PoolDiff) error {
	if !n.Enabled() {
		return nil
	}
	embed := Embed{
		Title:     fmt.Sprintf("多頭池更新 %s", diff.Date),
		Color:     colorGreen,
		Timestamp: utils.NowTaipei().Format(time.RFC3339),
		Fields: []EmbedField{
			{Name: "新進", Value: idList(diff.New), Inline: true},
			{Name: "續留", Value: fmt.Sprintf("%d 檔", len(diff.Continued)), Inline: true},
			{Name: "剔除", Value: idList(diff.Removed), Inline: true},
		},
	}
	return n.Send(ctx, "", embed)
}

// NotifyAccumulation posts stocks showing quiet institutional buying.
func (n *Notifier) NotifyAccumulation(ctx context.Context, analyses []models.AccumulationAnalysis) error {
	if !n.Enabled() {
		return nil
	}
	embed := Embed{
		Title:     "法人默默吃貨",
		Color:     colorYellow,
		Timestamp: utils.NowTaipei().Format(time.RFC3339),
	}
	for _, a := range analyses {
		if !a.IsQuietlyBuying {
			continue
		}
		embed.Fields = append(embed.Fields, EmbedField{
			Name: a.StockID,
			Value: fmt.Sprintf("%s  連買 %d 日  外資20日 %+d  投信20日 %+d",
				a.BehaviorType, a.MaxConsecutive(), a.Foreign20DSum, a.Trust20DSum),
		})
	}
	if len(embed.Fields) == 0 {
		return nil
	}
	return n.Send(ctx, "", embed)
}

// NotifyError posts a run failure alert.
func (n *Notifier) NotifyError(ctx context.Context, stage string, err error) {
	if !n.Enabled() {
		return
	}
	embed := Embed{
		Title:       "篩選執行失敗",
		Description: fmt.Sprintf("**%s**: %v", stage, err),
		Color:       colorRed,
		Timestamp:   utils.NowTaipei().Format(time.RFC3339),
	}
	if sendErr := n.Send(ctx, "", embed); sendErr != nil {
		n.log.Warn("error alert not delivered", "err", sendErr)
	}
}

func sentimentColor(label models.Sentiment) int {
	switch label {
	case models.SentimentBullish:
		return colorGreen
	case models.SentimentBearish:
		return colorRed
	case models.SentimentHedge, models.SentimentBottom:
		return colorYellow
	}
	return colorGray
}

func idList(ids []string) string {
	if len(ids) == 0 {
		return "無"
	}
	return strings.Join(ids, ", ")
}
