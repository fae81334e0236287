package lib

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
)

func TestRunSweep_DisablesSearchExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	search := seedSearch(t, f, 1, "http://a.jobs/rss", models.Daily, 0)
	f.source.discoverErr[search.URL] = fmt.Errorf("%w: gone", feeds.ErrInvalid)

	// Three consecutive daily sweeps against a dead URL.
	for i := 0; i < 3; i++ {
		f.health.RunSweep(ctx)
	}

	reloaded := f.reloadSearch(t, search.ID)
	assert.False(t, reloaded.IsActive)

	sent := f.sender.Sent()
	require.Len(t, sent, 1, "exactly one disable notice, not one per sweep")
	assert.Contains(t, sent[0].Subject, "Invalid search url")
}

func TestRunSweep_UnreachableNeverDisables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	search := seedSearch(t, f, 1, "http://a.jobs/rss", models.Daily, 0)
	f.source.discoverErr[search.URL] = fmt.Errorf("%w: timeout", feeds.ErrUnreachable)

	m := f.health.RunSweep(ctx)
	assert.Equal(t, 1, m.unreachable)

	assert.True(t, f.reloadSearch(t, search.ID).IsActive)
	assert.Empty(t, f.sender.Sent())
}

func TestRunSweep_RepairsEmptyCachedFeedSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	search := seedSearch(t, f, 1, "", models.Daily, 0)
	require.Equal(t, "", search.Feed)
	f.source.discovered[search.URL] = "http://a.jobs/feed/rss"

	m := f.health.RunSweep(ctx)
	assert.Equal(t, 1, m.repaired)

	reloaded := f.reloadSearch(t, search.ID)
	assert.Equal(t, "http://a.jobs/feed/rss", reloaded.Feed)
	assert.True(t, reloaded.IsActive)
	assert.Empty(t, f.sender.Sent(), "repairs are silent")
}

func TestRunSweep_HealthySearchUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	search := seedSearch(t, f, 1, "http://a.jobs/rss", models.Daily, 0)
	f.source.discovered[search.URL] = "http://a.jobs/rss"

	m := f.health.RunSweep(ctx)
	assert.Equal(t, 1, m.healthy)

	reloaded := f.reloadSearch(t, search.ID)
	assert.True(t, reloaded.IsActive)
	assert.Equal(t, "http://a.jobs/rss", reloaded.Feed)
	assert.Empty(t, f.sender.Sent())
}

func TestCheckDigest_DelegatesToMemberSearches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	digest := seedDigest(t, f, 1, models.Daily, 0)
	ok := seedSearch(t, f, 1, "http://a.jobs/rss", models.Daily, 0)
	bad := seedSearch(t, f, 1, "http://b.jobs/rss", models.Daily, 0)
	f.source.discovered[ok.URL] = "http://a.jobs/rss"
	f.source.discoverErr[bad.URL] = fmt.Errorf("%w: gone", feeds.ErrInvalid)

	m := f.health.CheckDigest(ctx, digest)
	assert.Equal(t, 1, m.healthy)
	assert.Equal(t, 1, m.disabled)

	assert.True(t, f.reloadSearch(t, ok.ID).IsActive)
	assert.False(t, f.reloadSearch(t, bad.ID).IsActive, "only the bad member is disabled")

	var reloadedDigest models.SearchDigest
	require.NoError(t, f.db.First(&reloadedDigest, digest.ID).Error)
	assert.True(t, reloadedDigest.IsActive, "no digest-level disable from health checks")
}
