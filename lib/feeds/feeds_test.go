package feeds

import (
	"strings"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunen/jobwatch/lib/models"
)

func TestSortOptions(t *testing.T) {
	got := sortOptions("http://example.jobs/feed/rss?q=nursing", models.SortByDate, models.Weekly)
	assert.Contains(t, got, "date_sort=True")
	assert.Contains(t, got, "days_ago=7")
	assert.Contains(t, got, "q=nursing")

	got = sortOptions("http://example.jobs/feed/rss", models.SortByRelevance, models.Daily)
	assert.Contains(t, got, "date_sort=False")
	assert.NotContains(t, got, "days_ago")
}

func TestAddURLExtras(t *testing.T) {
	got := AddURLExtras("http://example.jobs/job/123?src=feed", "utm_source=partner&ref=acme")
	assert.Contains(t, got, "utm_source=partner")
	assert.Contains(t, got, "ref=acme")
	assert.Contains(t, got, "src=feed")

	assert.Equal(t, "http://example.jobs/job/123", AddURLExtras("http://example.jobs/job/123", ""))
}

func TestSinceOnly(t *testing.T) {
	cutoff := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)
	items := []Item{
		{Title: "fresh", Published: cutoff.Add(time.Hour)},
		{Title: "stale", Published: cutoff.Add(-time.Hour)},
		{Title: "undated"},
	}

	kept := sinceOnly(items, cutoff)
	require.Len(t, kept, 2)
	assert.Equal(t, "fresh", kept[0].Title)
	assert.Equal(t, "undated", kept[1].Title)
}

func TestFeedLink(t *testing.T) {
	page := `<html><head>
		<link rel="stylesheet" href="/style.css">
		<link rel="alternate" type="application/rss+xml" href="/feed/rss?q=nursing">
	</head><body></body></html>`

	doc, err := htmlquery.Parse(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "/feed/rss?q=nursing", feedLink(doc))
}

func TestFeedLink_NoFeed(t *testing.T) {
	doc, err := htmlquery.Parse(strings.NewReader(`<html><head><title>jobs</title></head></html>`))
	require.NoError(t, err)
	assert.Equal(t, "", feedLink(doc))
}

func TestResolveRef(t *testing.T) {
	assert.Equal(t,
		"http://example.jobs/feed/rss",
		resolveRef("http://example.jobs/search?q=rn", "/feed/rss"))
	assert.Equal(t,
		"http://other.example.com/rss",
		resolveRef("http://example.jobs/search", "http://other.example.com/rss"))
}
