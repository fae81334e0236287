package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunen/jobwatch/config"
	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
)

// HealthMonitor re-validates the source URL of every active search on its
// own schedule. A URL that no longer advertises any feed gets the search
// deactivated with a notice email; reactivation then requires explicit
// owner action. A valid URL whose cached feed was never filled in gets
// repaired silently.
type HealthMonitor struct {
	log        *zap.Logger
	db         *gorm.DB
	source     feeds.Source
	dispatcher *Dispatcher

	concurrency int
	wakeup      time.Duration

	cancel context.CancelFunc
}

func NewHealthMonitor(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, db *gorm.DB, source feeds.Source, dispatcher *Dispatcher) *HealthMonitor {
	return &HealthMonitor{
		log:         log,
		db:          db,
		source:      source,
		dispatcher:  dispatcher,
		concurrency: cfg.Concurrency,
		wakeup:      cfg.HealthWakeup(),
	}
}

type healthMetrics struct {
	totalSelected int
	healthy       int
	repaired      int
	disabled      int
	unreachable   int
	errored       int
}

func (m *healthMetrics) Add(other *healthMetrics) {
	m.totalSelected += other.totalSelected
	m.healthy += other.healthy
	m.repaired += other.repaired
	m.disabled += other.disabled
	m.unreachable += other.unreachable
	m.errored += other.errored
}

func (h *HealthMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	ticker := time.NewTicker(h.wakeup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Sugar().Info("Health monitor stopped")
			return
		case <-ticker.C:
			h.RunSweep(ctx)
		}
	}
}

func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// RunSweep checks every active search once.
func (h *HealthMonitor) RunSweep(ctx context.Context) *healthMetrics {
	metrics := &healthMetrics{}

	var searches models.SavedSearches
	tx := h.db.
		Where("is_active = ?", true).
		Preload("Partner").
		FindInBatches(&searches, h.concurrency, func(tx *gorm.DB, batch int) error {
			metrics.Add(h.checkBatch(ctx, searches))
			return nil
		})
	if err := tx.Error; err != nil {
		h.log.Sugar().Errorw("Failed to enumerate searches for health sweep", "err", err)
		return metrics
	}

	if metrics.totalSelected > 0 {
		h.log.Sugar().Infow(
			fmt.Sprintf("Health-checked %d searches", metrics.totalSelected),
			"repaired", metrics.repaired, "disabled", metrics.disabled,
			"unreachable", metrics.unreachable, "errored", metrics.errored,
		)
	}
	return metrics
}

func (h *HealthMonitor) checkBatch(ctx context.Context, batch models.SavedSearches) *healthMetrics {
	var wg sync.WaitGroup
	var mu sync.Mutex
	metrics := &healthMetrics{totalSelected: len(batch)}

	for i := range batch {
		search := batch[i]
		wg.Add(1)

		go func() {
			defer wg.Done()
			m := h.CheckSearch(ctx, &search)

			mu.Lock()
			defer mu.Unlock()
			metrics.Add(m)
		}()
	}

	wg.Wait()
	return metrics
}

// CheckDigest delegates to each of the digest owner's active searches.
// There is no digest-level disable; only individual searches go unhealthy.
func (h *HealthMonitor) CheckDigest(ctx context.Context, digest *models.SearchDigest) *healthMetrics {
	metrics := &healthMetrics{}

	var searches models.SavedSearches
	tx := h.db.
		Where("user_id = ?", digest.UserID).
		Where("is_active = ?", true).
		Preload("Partner").
		Find(&searches)
	if err := tx.Error; err != nil {
		h.log.Sugar().Errorw("Failed to load searches for digest health check", "user_id", digest.UserID, "err", err)
		metrics.errored++
		return metrics
	}

	for i := range searches {
		metrics.totalSelected++
		metrics.Add(h.CheckSearch(ctx, &searches[i]))
	}
	return metrics
}

// CheckSearch disables or fixes one search based on whether its source URL
// still advertises a feed.
func (h *HealthMonitor) CheckSearch(ctx context.Context, search *models.SavedSearch) *healthMetrics {
	m := &healthMetrics{}

	feedURL, err := h.source.Discover(ctx, search.URL)
	switch {
	case errors.Is(err, feeds.ErrUnreachable):
		// Transient; never disable for this.
		m.unreachable++
		return m

	case err != nil:
		return h.disable(ctx, search, m)

	case search.Feed == "":
		// The URL validated in the past even though the feed could not be
		// cached then; repair silently.
		tx := h.db.Model(search).Update("feed", feedURL)
		if tx.Error != nil {
			h.log.Sugar().Errorw("Failed to repair feed URL", "search_id", search.ID, "err", tx.Error)
			m.errored++
			return m
		}
		m.repaired++
		return m
	}

	m.healthy++
	return m
}

func (h *HealthMonitor) disable(ctx context.Context, search *models.SavedSearch, m *healthMetrics) *healthMetrics {
	// Flip the flag before emailing: sweeps only select active searches,
	// so the owner gets exactly one notice no matter how often we re-run.
	tx := h.db.Model(search).Update("is_active", false)
	if tx.Error != nil {
		h.log.Sugar().Errorw("Failed to deactivate search", "search_id", search.ID, "err", tx.Error)
		m.errored++
		return m
	}

	h.log.Sugar().Infow("Disabled search with invalid source URL", "search_id", search.ID, "url", search.URL)
	if err := h.dispatcher.SendDisable(ctx, search); err != nil {
		h.log.Sugar().Errorw("Failed to send disable notice", "search_id", search.ID, "err", err)
	}

	m.disabled++
	return m
}
