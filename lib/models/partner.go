package models

import (
	"time"

	"gorm.io/gorm"
)

// PartnerSearch is the extension row carried by a SavedSearch that was
// created on the user's behalf by a partner organization. One logical
// search, stored as base row + extension, never as a separate copy.
type PartnerSearch struct {
	gorm.Model
	SavedSearchID uint `gorm:"uniqueIndex"`
	PartnerID     uint
	ProviderID    uint // tenant/company the search was created under
	CreatedByID   uint // staff user who created it, 0 for system

	// Query-string extras stamped onto the search URL and every result
	// link in outgoing emails.
	URLExtras string

	PartnerMessage           string
	AccountActivationMessage string

	Tags []Tag `gorm:"many2many:partner_search_tags"`
}

type Partner struct {
	gorm.Model
	Name    string
	OwnerID uint
}

// Contact associates a partner with one of its users. Partner sends are
// audited against the contact matching the recipient.
type Contact struct {
	gorm.Model
	PartnerID uint `gorm:"index:idx_partner_user"`
	UserID    uint `gorm:"index:idx_partner_user"`
	Name      string
	Email     string
}

// ContactRecord is the audit row written for every partner search email,
// including the very first ("initial") send.
type ContactRecord struct {
	gorm.Model
	PartnerID    uint `gorm:"index"`
	ContactID    uint
	ContactType  string // always "pssemail" for sends from this engine
	ContactName  string
	ContactEmail string
	CreatedByID  uint // 0 when the send was system-generated
	DateTime     time.Time
	Subject      string
	Notes        string // rendered email body
	ChangeMsg    string
}

type Tag struct {
	gorm.Model
	Name string `gorm:"unique"`
}

const ContactTypePSSEmail = "pssemail"

// Change messages recorded against partner sends.
const (
	ChangeMsgInitial   = "Automatic sending of initial partner saved search."
	ChangeMsgUpdated   = "Automatic sending of updated partner saved search."
	ChangeMsgAutomatic = "Automatic sending of partner saved search."
)
