package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib/schedule"
)

// RSSSource fetches and parses RSS/Atom job feeds with gofeed.
type RSSSource struct {
	log    *zap.Logger
	parser *gofeed.Parser

	transport http.RoundTripper
	timeout   time.Duration
}

var _ Source = (*RSSSource)(nil)

func NewRSSSource(log *zap.Logger, cfg *config.Config, transport http.RoundTripper) *RSSSource {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{
		Transport: transport,
		Timeout:   cfg.FetchTimeout(),
	}
	return &RSSSource{
		log:       log,
		parser:    parser,
		transport: transport,
		timeout:   cfg.FetchTimeout(),
	}
}

func (s *RSSSource) FetchItems(ctx context.Context, feedURL string, opts FetchOptions) ([]Item, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fetchURL := sortOptions(feedURL, opts.SortBy, opts.Frequency)
	feed, err := s.parser.ParseURLWithContext(fetchURL, ctx)
	if err != nil {
		return nil, 0, classify(fetchURL, err)
	}

	items := normalize(feed.Items)
	if !opts.IgnoreDates {
		now := opts.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		cutoff, _ := schedule.ReportWindow(opts.Frequency, now)
		items = sinceOnly(items, cutoff)
	}

	total := len(items)
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	return items, total, nil
}

func normalize(raw []*gofeed.Item) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		item := Item{
			Title:       r.Title,
			Link:        r.Link,
			Description: r.Description,
		}
		if r.PublishedParsed != nil {
			item.Published = *r.PublishedParsed
		} else if r.UpdatedParsed != nil {
			item.Published = *r.UpdatedParsed
		}
		items = append(items, item)
	}
	return items
}

// sinceOnly keeps items published after the cutoff. Items with no publish
// date at all are kept; we can't judge their age.
func sinceOnly(items []Item, cutoff time.Time) []Item {
	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Published.IsZero() || item.Published.After(cutoff) {
			kept = append(kept, item)
		}
	}
	return kept
}

// classify maps a gofeed failure onto the engine's error taxonomy. Client
// errors and undetectable feed types are structural; everything else is
// treated as transient.
func classify(feedURL string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return fmt.Errorf("%w: %s returned %s", ErrInvalid, feedURL, httpErr.Status)
		}
		return fmt.Errorf("%w: %s returned %s", ErrUnreachable, feedURL, httpErr.Status)
	}

	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return fmt.Errorf("%w: %s: %s", ErrInvalid, feedURL, err)
	}

	return fmt.Errorf("%w: %s: %s", ErrUnreachable, feedURL, err)
}
