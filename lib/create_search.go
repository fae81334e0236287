package lib

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
)

type createSearch struct {
	log        *zap.Logger
	db         *gorm.DB
	source     feeds.Source
	dispatcher *Dispatcher
}

type CreateSearchParams struct {
	UserID        uint
	Label         string
	URL           string
	SortBy        string
	Email         string
	Frequency     models.Frequency
	DayOfWeek     int
	DayOfMonth    int
	JobsPerEmail  int
	Notes         string
	CustomMessage string
}

type CreatePartnerSearchParams struct {
	CreateSearchParams

	PartnerID                uint
	ProviderID               uint
	CreatedByID              uint
	URLExtras                string
	PartnerMessage           string
	AccountActivationMessage string
	TagNames                 []string
}

// CreateSearch persists a new saved search for a user. The search URL must
// be unique per user and must resolve to a page advertising a feed. The
// user's digest is created lazily here, on their very first search, and
// exactly once.
func (svc *createSearch) CreateSearch(ctx context.Context, params CreateSearchParams) (*models.SavedSearch, error) {
	if !params.Frequency.Valid() {
		params.Frequency = models.Weekly
	}
	if params.SortBy == "" {
		params.SortBy = models.SortByRelevance
	}
	if params.JobsPerEmail == 0 {
		params.JobsPerEmail = 5
	}

	var existing models.SavedSearch
	tx := svc.db.
		Where("user_id = ?", params.UserID).
		Where("url = ?", params.URL).
		First(&existing)
	if tx.Error == nil {
		return nil, ErrDuplicateSearchURL
	} else if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, tx.Error
	}

	feedURL, err := svc.source.Discover(ctx, params.URL)
	if err != nil {
		return nil, err
	}

	search := &models.SavedSearch{
		UserID:        params.UserID,
		Label:         params.Label,
		URL:           params.URL,
		SortBy:        params.SortBy,
		Feed:          feedURL,
		IsActive:      true,
		Email:         params.Email,
		Frequency:     params.Frequency,
		DayOfWeek:     params.DayOfWeek,
		DayOfMonth:    params.DayOfMonth,
		JobsPerEmail:  params.JobsPerEmail,
		Notes:         params.Notes,
		CustomMessage: params.CustomMessage,
	}
	tx = svc.db.Clauses(clause.Returning{}).Create(search)
	if err := tx.Error; err != nil {
		return nil, err
	}

	if _, err := svc.ensureDigest(params.UserID, params.Email); err != nil {
		return nil, err
	}

	svc.log.Sugar().Infow("Created saved search", "search_id", search.ID, "user_id", params.UserID)
	return search, nil
}

// CreatePartnerSearch layers the partner extension onto a freshly created
// search and immediately sends the initial notification, which also writes
// the "initial" audit record.
func (svc *createSearch) CreatePartnerSearch(ctx context.Context, params CreatePartnerSearchParams) (*models.SavedSearch, error) {
	search, err := svc.CreateSearch(ctx, params.CreateSearchParams)
	if err != nil {
		return nil, err
	}

	ext := &models.PartnerSearch{
		SavedSearchID:            search.ID,
		PartnerID:                params.PartnerID,
		ProviderID:               params.ProviderID,
		CreatedByID:              params.CreatedByID,
		URLExtras:                params.URLExtras,
		PartnerMessage:           params.PartnerMessage,
		AccountActivationMessage: params.AccountActivationMessage,
		Tags:                     svc.tags(params.TagNames),
	}
	tx := svc.db.Clauses(clause.Returning{}).Create(ext)
	if err := tx.Error; err != nil {
		return nil, err
	}
	search.Partner = ext

	now := time.Now().UTC()
	if err := svc.dispatcher.SendInitial(ctx, search, "", now); err != nil {
		return search, err
	}
	return search, nil
}

// ensureDigest creates the user's digest if they don't have one yet. The
// unique index on user_id plus OnConflict-DoNothing makes this a no-op for
// every search after the first.
func (svc *createSearch) ensureDigest(userID uint, email string) (*models.SearchDigest, error) {
	digest := models.SearchDigest{
		UserID:    userID,
		IsActive:  true,
		Email:     email,
		Frequency: models.Daily,
	}
	tx := svc.db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&digest)
	if err := tx.Error; err != nil {
		return nil, err
	}

	if tx.RowsAffected == 0 {
		// Already existed; hand back the original row untouched.
		tx = svc.db.Where("user_id = ?", userID).First(&digest)
		if err := tx.Error; err != nil {
			return nil, err
		}
	}
	return &digest, nil
}

func (svc *createSearch) tags(names []string) []models.Tag {
	tags := make([]models.Tag, 0, len(names))
	for _, name := range names {
		var tag models.Tag
		tx := svc.db.Where("name = ?", name).FirstOrCreate(&tag, models.Tag{Name: name})
		if tx.Error != nil {
			svc.log.Sugar().Warnw("Failed to resolve tag", "name", name, "err", tx.Error)
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}
