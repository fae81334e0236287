package models

import (
	"database/sql"

	"gorm.io/gorm"
)

// SavedSearch is a user's standing job-search query. The (UserID, URL) pair
// is unique; duplicates are rejected when the search is created.
type SavedSearch struct {
	gorm.Model
	UserID uint   `gorm:"index;uniqueIndex:idx_user_url"`
	Label  string
	URL    string `gorm:"uniqueIndex:idx_user_url"`
	SortBy string
	Feed   string // feed URL discovered from the search page, may lag behind URL

	IsActive  bool `gorm:"default:true"`
	Email     string
	Frequency Frequency
	DayOfWeek  int // weekly only, 1=Monday..7=Sunday
	DayOfMonth int // monthly only, 1..31

	JobsPerEmail  int `gorm:"default:5"`
	Notes         string
	LastSent      sql.NullTime
	CustomMessage string

	// Batch-claim bookkeeping. A run stamps its token here before touching
	// the row; a stale ClaimedAt lets a later run take the claim over.
	ClaimToken string `gorm:"index"`
	ClaimedAt  sql.NullTime

	Partner *PartnerSearch
}

type SavedSearches []SavedSearch

// IsPartner reports whether this search carries a partner extension.
func (s *SavedSearch) IsPartner() bool {
	return s.Partner != nil
}
