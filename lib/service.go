package lib

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
)

// Service is the application facade consumed by the admin API and the
// partner workflows.
type Service struct {
	log        *zap.Logger
	db         *gorm.DB
	source     feeds.Source
	dispatcher *Dispatcher
	digester   *Digester

	*createSearch
}

func NewService(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB, source feeds.Source, dispatcher *Dispatcher, digester *Digester) *Service {
	return &Service{
		log, db, source, dispatcher, digester,
		&createSearch{log, db, source, dispatcher},
	}
}

type UpdateSearchParams struct {
	Label         string
	SortBy        string
	Email         string
	Frequency     models.Frequency
	DayOfWeek     int
	DayOfMonth    int
	JobsPerEmail  int
	Notes         string
	CustomMessage string
}

func (svc *Service) UpdateSearch(ctx context.Context, searchID uint, params UpdateSearchParams) (*models.SavedSearch, error) {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return nil, err
	}

	if params.Frequency != "" && !params.Frequency.Valid() {
		return nil, errors.New("invalid frequency")
	}

	tx := svc.db.Model(search).Updates(models.SavedSearch{
		Label:         params.Label,
		SortBy:        params.SortBy,
		Email:         params.Email,
		Frequency:     params.Frequency,
		DayOfWeek:     params.DayOfWeek,
		DayOfMonth:    params.DayOfMonth,
		JobsPerEmail:  params.JobsPerEmail,
		Notes:         params.Notes,
		CustomMessage: params.CustomMessage,
	})
	if err := tx.Error; err != nil {
		return nil, err
	}
	return search, nil
}

func (svc *Service) DeactivateSearch(ctx context.Context, searchID uint) error {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return err
	}
	tx := svc.db.Model(search).Update("is_active", false)
	return tx.Error
}

func (svc *Service) DeleteSearch(ctx context.Context, searchID uint) error {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return err
	}
	if search.IsPartner() {
		if tx := svc.db.Delete(search.Partner); tx.Error != nil {
			return tx.Error
		}
	}
	tx := svc.db.Delete(search)
	return tx.Error
}

// UnsubscribeAll deactivates every search a user owns, plus their digest.
func (svc *Service) UnsubscribeAll(ctx context.Context, userID uint) error {
	tx := svc.db.Model(&models.SavedSearch{}).
		Where("user_id = ?", userID).
		Update("is_active", false)
	if err := tx.Error; err != nil {
		return err
	}

	tx = svc.db.Model(&models.SearchDigest{}).
		Where("user_id = ?", userID).
		Update("is_active", false)
	return tx.Error
}

// SendInitial re-sends the welcome email for one search, with its audit
// record when the search is partner-owned. Exposed to partner workflows.
func (svc *Service) SendInitial(ctx context.Context, searchID uint) error {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return err
	}
	return svc.dispatcher.SendInitial(ctx, search, "", time.Now().UTC())
}

// SendUpdateNotice tells the owner their search was changed by the system
// or an admin. Exposed to partner workflows.
func (svc *Service) SendUpdateNotice(ctx context.Context, searchID uint, message string) error {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return err
	}
	return svc.dispatcher.SendUpdate(ctx, search, message, "", time.Now().UTC())
}

// SendSearchNow runs the immediate single-search path: fetch and dispatch
// one email for one search, bypassing digest aggregation.
func (svc *Service) SendSearchNow(ctx context.Context, searchID uint) error {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := svc.digester.FetchResult(ctx, search, now)
	if err != nil {
		return err
	}
	return svc.dispatcher.SendSingle(ctx, result, "", now)
}

// FullFeed previews the current feed contents of one search without
// sending anything.
func (svc *Service) FullFeed(ctx context.Context, searchID uint) ([]feeds.Item, int, error) {
	search, err := svc.loadSearch(searchID)
	if err != nil {
		return nil, 0, err
	}

	items, total, err := svc.source.FetchItems(ctx, search.Feed, feeds.FetchOptions{
		SortBy:      search.SortBy,
		Frequency:   search.Frequency,
		IgnoreDates: true,
	})
	return items, total, err
}

func (svc *Service) loadSearch(searchID uint) (*models.SavedSearch, error) {
	search := &models.SavedSearch{}
	tx := svc.db.Preload("Partner").First(search, searchID)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSearchNotFound
	} else if err != nil {
		return nil, err
	}
	return search, nil
}
