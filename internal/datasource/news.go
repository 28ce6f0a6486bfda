package datasource

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/chiehw/twscreener/pkg/models"
)

// News pulls market headlines from configured RSS feeds. Headlines are
// flavor for the daily report; any feed failure degrades to fewer items.
type News struct {
	parser *gofeed.Parser
	feeds  []string
	log    *slog.Logger
}

// NewNews creates a headline fetcher over the given feed URLs.
func NewNews(feeds []string, timeout time.Duration, log *slog.Logger) *News {
	if log == nil {
		log = slog.Default()
	}
	p := gofeed.NewParser()
	p.Client = newHTTPClient(timeout)
	p.UserAgent = DefaultUserAgent
	return &News{parser: p, feeds: feeds, log: log}
}

// Headlines returns up to limit headlines across all feeds, newest
// first. Failed feeds are logged and skipped.
func (n *News) Headlines(ctx context.Context, limit int) []models.NewsItem {
	if limit <= 0 {
		limit = 10
	}

	var items []models.NewsItem
	for _, feedURL := range n.feeds {
		feed, err := n.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			n.log.Warn("news feed unavailable", "feed", feedURL, "err", err)
			continue
		}
		for _, it := range feed.Items {
			item := models.NewsItem{
				Title:  it.Title,
				Link:   it.Link,
				Source: feed.Title,
			}
			if it.PublishedParsed != nil {
				item.Published = *it.PublishedParsed
			}
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
