package lib

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
	"github.com/lunen/jobwatch/senders"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.SavedSearch{},
		&models.SearchDigest{},
		&models.PartnerSearch{},
		&models.Partner{},
		&models.Contact{},
		&models.ContactRecord{},
		&models.Tag{},
	))
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{
		Concurrency:      2,
		FetchTimeoutSecs: 5,
		ClaimTimeoutMins: 30,
		DigestWakeupMins: 60,
		HealthWakeupMins: 1440,
	}
	return cfg
}

// fakeSource serves canned items and errors keyed by URL.
type fakeSource struct {
	mu sync.Mutex

	items       map[string][]feeds.Item
	fetchErr    map[string]error
	discovered  map[string]string
	discoverErr map[string]error

	fetchCalls    []string
	lastFetchOpts feeds.FetchOptions
}

var _ feeds.Source = (*fakeSource)(nil)

func newFakeSource() *fakeSource {
	return &fakeSource{
		items:       map[string][]feeds.Item{},
		fetchErr:    map[string]error{},
		discovered:  map[string]string{},
		discoverErr: map[string]error{},
	}
}

func (f *fakeSource) FetchItems(ctx context.Context, feedURL string, opts feeds.FetchOptions) ([]feeds.Item, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls = append(f.fetchCalls, feedURL)
	f.lastFetchOpts = opts

	if err, ok := f.fetchErr[feedURL]; ok {
		return nil, 0, err
	}

	items := f.items[feedURL]
	total := len(items)
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	return items, total, nil
}

func (f *fakeSource) Discover(ctx context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.discoverErr[pageURL]; ok {
		return "", err
	}
	if feed, ok := f.discovered[pageURL]; ok {
		return feed, nil
	}
	return pageURL + "/feed/rss", nil
}

type sentEmail struct {
	Subject   string
	Body      string
	Recipient string
}

// fakeSender records outbound emails instead of talking to Mailgun.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeSender) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentEmail{subject, body, recipient})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeSender) Sent() []sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEmail(nil), f.sent...)
}

type fixture struct {
	db         *gorm.DB
	source     *fakeSource
	sender     *fakeSender
	dispatcher *Dispatcher
	digester   *Digester
	health     *HealthMonitor
	svc        *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	log := zap.NewNop()
	cfg := newTestConfig()
	source := newFakeSource()
	sender := &fakeSender{}
	registry := senders.Registry{"email": sender}

	dispatcher := NewDispatcher(nil, log, db, registry)
	digester := NewDigester(nil, log, cfg, db, source, dispatcher)
	health := NewHealthMonitor(nil, log, cfg, db, source, dispatcher)
	svc := NewService(nil, log, db, source, dispatcher, digester)

	return &fixture{db, source, sender, dispatcher, digester, health, svc}
}

func (f *fixture) mustCreate(t *testing.T, value any) {
	t.Helper()
	require.NoError(t, f.db.Create(value).Error)
}

func (f *fixture) reloadSearch(t *testing.T, id uint) *models.SavedSearch {
	t.Helper()
	var search models.SavedSearch
	require.NoError(t, f.db.Preload("Partner").First(&search, id).Error)
	return &search
}
