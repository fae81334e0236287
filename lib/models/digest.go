package models

import "gorm.io/gorm"

// SearchDigest batches all of one user's due saved searches into a single
// scheduled email. There is at most one per user; it is created lazily the
// first time the user saves a search.
type SearchDigest struct {
	gorm.Model
	UserID     uint `gorm:"uniqueIndex"`
	IsActive   bool `gorm:"default:true"`
	Email      string
	Frequency  Frequency
	DayOfWeek  int
	DayOfMonth int

	// When set, the digest goes out on schedule even if every member
	// search returned zero items.
	SendIfNone bool
}

type SearchDigests []SearchDigest
