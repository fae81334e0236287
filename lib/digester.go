package lib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
	"github.com/lunen/jobwatch/lib/schedule"
)

// Digester runs the scheduled batch: it walks the active digests, decides
// which are due, aggregates each due user's searches into one payload, and
// hands it to the dispatcher. One user's aggregation+dispatch runs to
// completion inside one worker; users never share state, so the pool just
// bounds the fan-out against the upstream feed hosts.
type Digester struct {
	log        *zap.Logger
	db         *gorm.DB
	source     feeds.Source
	dispatcher *Dispatcher

	concurrency  int
	claimTimeout time.Duration
	wakeup       time.Duration

	cancel context.CancelFunc
}

func NewDigester(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, db *gorm.DB, source feeds.Source, dispatcher *Dispatcher) *Digester {
	return &Digester{
		log:          log,
		db:           db,
		source:       source,
		dispatcher:   dispatcher,
		concurrency:  cfg.Concurrency,
		claimTimeout: cfg.ClaimTimeout(),
		wakeup:       cfg.DigestWakeup(),
	}
}

type digestMetrics struct {
	totalSelected int
	sent          int
	notDue        int
	empty         int
	errored       int
}

func (m *digestMetrics) Add(other *digestMetrics) {
	m.totalSelected += other.totalSelected
	m.sent += other.sent
	m.notDue += other.notDue
	m.empty += other.empty
	m.errored += other.errored
}

// Start runs batches on a ticker until Stop. Used by the long-running mode;
// the run-digests entrypoint calls RunBatch once instead.
func (d *Digester) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	ticker := time.NewTicker(d.wakeup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Sugar().Info("Digester stopped")
			return
		case batchStartTime := <-ticker.C:
			d.RunBatch(ctx, batchStartTime.UTC())
		}
	}
}

func (d *Digester) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// RunBatch processes every active digest once against now. Per-user
// failures are logged and counted, never raised: one bad feed must not stop
// the scheduler from retrying everyone next cycle.
func (d *Digester) RunBatch(ctx context.Context, now time.Time) *digestMetrics {
	metrics := &digestMetrics{}

	var digests models.SearchDigests
	tx := d.db.
		Where("is_active = ?", true).
		FindInBatches(&digests, d.concurrency, func(tx *gorm.DB, batch int) error {
			metrics.Add(d.processBatch(ctx, digests, now))
			return nil
		})
	if err := tx.Error; err != nil {
		d.log.Sugar().Errorw("Failed to enumerate digests", "err", err)
		return metrics
	}

	if metrics.totalSelected > 0 {
		d.log.Sugar().Infow(
			fmt.Sprintf("Processed %d digests", metrics.totalSelected),
			"sent", metrics.sent, "not_due", metrics.notDue,
			"empty", metrics.empty, "errored", metrics.errored,
		)
	}
	return metrics
}

func (d *Digester) processBatch(ctx context.Context, batch models.SearchDigests, now time.Time) *digestMetrics {
	var wg sync.WaitGroup
	var mu sync.Mutex
	metrics := &digestMetrics{totalSelected: len(batch)}

	for i := range batch {
		digest := batch[i]
		wg.Add(1)

		go func() {
			defer wg.Done()
			m := d.processDigest(ctx, &digest, now)

			mu.Lock()
			defer mu.Unlock()
			metrics.Add(m)
		}()
	}

	wg.Wait()
	return metrics
}

// processDigest is one unit of work: fetch, aggregate, send, persist, all
// for a single user.
func (d *Digester) processDigest(ctx context.Context, digest *models.SearchDigest, now time.Time) *digestMetrics {
	m := &digestMetrics{}

	var searches models.SavedSearches
	tx := d.db.
		Where("user_id = ?", digest.UserID).
		Where("is_active = ?", true).
		Preload("Partner").
		Find(&searches)
	if err := tx.Error; err != nil {
		d.log.Sugar().Errorw("Failed to load searches", "user_id", digest.UserID, "err", err)
		m.errored++
		return m
	}

	// A digest with no searches behind it is never due.
	if len(searches) == 0 {
		m.notDue++
		return m
	}

	if !schedule.IsDue(digest.Frequency, digest.DayOfWeek, digest.DayOfMonth, latestSent(searches), now) {
		m.notDue++
		return m
	}

	var due []*models.SavedSearch
	for i := range searches {
		s := &searches[i]
		if schedule.IsDue(s.Frequency, s.DayOfWeek, s.DayOfMonth, nullableTime(s.LastSent), now) {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		m.notDue++
		return m
	}

	claimed, release, err := d.claim(due, now)
	if err != nil {
		d.log.Sugar().Errorw("Failed to claim searches", "user_id", digest.UserID, "err", err)
		m.errored++
		return m
	}
	defer release()

	if len(claimed) == 0 {
		// Another run holds every due search for this user.
		m.notDue++
		return m
	}

	results := d.aggregate(ctx, claimed, now, digest.SendIfNone)
	if len(results) == 0 {
		m.empty++
		return m
	}

	if err := d.dispatcher.SendDigest(ctx, digest, results, "", now); err != nil {
		d.log.Sugar().Errorw("Failed to dispatch digest", "user_id", digest.UserID, "err", err)
		m.errored++
		return m
	}

	m.sent++
	return m
}

// aggregate fetches items for each claimed search. A transient fetch
// failure drops that one search from this cycle; it never aborts the
// user's whole digest. keepEmpty retains zero-item fetches so a
// send-if-none digest still advances last_sent on its members and does
// not re-send the same empty digest on the next run.
func (d *Digester) aggregate(ctx context.Context, searches []*models.SavedSearch, now time.Time, keepEmpty bool) []feeds.Result {
	var results []feeds.Result
	for _, search := range searches {
		result, err := d.FetchResult(ctx, search, now)
		if err != nil {
			if errors.Is(err, feeds.ErrUnreachable) {
				d.log.Sugar().Infow("Feed unreachable, skipping this cycle", "search_id", search.ID, "err", err)
			} else {
				// Structural failures are the health monitor's job.
				d.log.Sugar().Warnw("Feed failed, skipping", "search_id", search.ID, "err", err)
			}
			continue
		}

		if len(result.Items) == 0 && !keepEmpty {
			continue
		}
		results = append(results, result)
	}
	return results
}

// FetchResult pulls the current items for one search and applies the
// partner URL extras. Partner searches always fetch with dates ignored so
// every scheduled send carries the full current set. now anchors the
// recency filter, so an overridden batch clock filters deterministically.
func (d *Digester) FetchResult(ctx context.Context, search *models.SavedSearch, now time.Time) (feeds.Result, error) {
	opts := feeds.FetchOptions{
		SortBy:      search.SortBy,
		Frequency:   search.Frequency,
		MaxItems:    search.JobsPerEmail,
		IgnoreDates: search.IsPartner(),
		Now:         now,
	}

	items, total, err := d.source.FetchItems(ctx, search.Feed, opts)
	if err != nil {
		return feeds.Result{}, err
	}

	if search.IsPartner() {
		if extras := search.Partner.URLExtras; extras != "" {
			for i := range items {
				items[i].Link = feeds.AddURLExtras(items[i].Link, extras)
			}
			search.URL = feeds.AddURLExtras(search.URL, extras)
		}
	}

	return feeds.Result{Search: search, Items: items, Total: total}, nil
}

// claim stamps a fresh token on the given searches so no concurrent batch
// run processes the same rows. Stale claims past the timeout are taken
// over, which covers runs that crashed without releasing.
func (d *Digester) claim(searches []*models.SavedSearch, now time.Time) (claimed []*models.SavedSearch, release func(), err error) {
	ids := make([]uint, len(searches))
	byID := make(map[uint]*models.SavedSearch, len(searches))
	for i, s := range searches {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	token := uuid.NewString()
	staleBefore := now.Add(-d.claimTimeout)

	tx := d.db.Model(&models.SavedSearch{}).
		Where("id IN ?", ids).
		Where("claim_token = '' OR claimed_at IS NULL OR claimed_at <= ?", staleBefore).
		Updates(map[string]any{"claim_token": token, "claimed_at": now})
	if tx.Error != nil {
		return nil, nil, tx.Error
	}

	var claimedIDs []uint
	tx = d.db.Model(&models.SavedSearch{}).
		Where("claim_token = ?", token).
		Pluck("id", &claimedIDs)
	if tx.Error != nil {
		return nil, nil, tx.Error
	}

	for _, id := range claimedIDs {
		claimed = append(claimed, byID[id])
	}

	release = func() {
		tx := d.db.Model(&models.SavedSearch{}).
			Where("claim_token = ?", token).
			Updates(map[string]any{"claim_token": "", "claimed_at": nil})
		if tx.Error != nil {
			d.log.Sugar().Errorw("Failed to release claims", "token", token, "err", tx.Error)
		}
	}
	return claimed, release, nil
}

func latestSent(searches models.SavedSearches) time.Time {
	var latest time.Time
	for _, s := range searches {
		if s.LastSent.Valid && s.LastSent.Time.After(latest) {
			latest = s.LastSent.Time
		}
	}
	return latest
}

func nullableTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
