// Package feeds converts an upstream job-search URL into normalized result
// items. The engine only sees the Source contract; RSS/Atom mechanics stay
// behind it.
package feeds

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/lunen/jobwatch/lib/models"
)

var (
	// ErrUnreachable is transient: network failure or timeout. Callers skip
	// the current cycle and retry on the next one.
	ErrUnreachable = errors.New("feed unreachable")

	// ErrInvalid is structural: the URL does not resolve to a parseable
	// feed. It routes into the health monitor's disable path.
	ErrInvalid = errors.New("invalid feed")
)

// Item is one normalized result from a feed.
type Item struct {
	Title       string
	Link        string
	Description string
	Published   time.Time
}

type FetchOptions struct {
	SortBy    string
	Frequency models.Frequency
	MaxItems  int

	// IgnoreDates disables the recency filter so every send carries the
	// full current result set. Required for partner searches, which resend
	// overlapping items on every cycle.
	IgnoreDates bool

	// Now anchors the recency filter. Zero means wall clock.
	Now time.Time
}

// Result pairs a saved search with the items fetched for it this cycle.
// Total is the result count before the per-email cap was applied.
type Result struct {
	Search *models.SavedSearch
	Items  []Item
	Total  int
}

type Source interface {
	// FetchItems returns up to opts.MaxItems normalized items plus the
	// total result count before capping.
	FetchItems(ctx context.Context, feedURL string, opts FetchOptions) ([]Item, int, error)

	// Discover resolves a search-results page URL to its advertised feed
	// URL. ErrInvalid means the page has no feed at all.
	Discover(ctx context.Context, pageURL string) (string, error)
}

// sortOptions stamps the sort and look-back hints onto the feed URL the way
// the upstream search endpoints expect them.
func sortOptions(feedURL, sortBy string, freq models.Frequency) string {
	parsed, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}

	q := parsed.Query()
	if sortBy == models.SortByDate {
		q.Set("date_sort", "True")
		q.Set("days_ago", strconv.Itoa(windowDays(freq)))
	} else {
		q.Set("date_sort", "False")
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func windowDays(freq models.Frequency) int {
	switch freq {
	case models.Weekly:
		return 7
	case models.Monthly:
		return 30
	default:
		return 1
	}
}

// AddURLExtras appends raw query-string extras ("a=b&c=d") to a link.
// Partner searches use this to stamp tracking params on every result.
func AddURLExtras(link, extras string) string {
	if extras == "" {
		return link
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}

	extraVals, err := url.ParseQuery(extras)
	if err != nil {
		return link
	}

	q := parsed.Query()
	for key, vals := range extraVals {
		for _, v := range vals {
			q.Set(key, v)
		}
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
