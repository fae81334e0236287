package lib

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunen/jobwatch/lib/feeds"
	"github.com/lunen/jobwatch/lib/models"
	"github.com/lunen/jobwatch/lib/schedule"
	"github.com/lunen/jobwatch/senders"
	"github.com/lunen/jobwatch/senders/email"
)

// Dispatcher renders and sends the outbound emails, advances last_sent on
// the searches that went out, and writes the audit record every partner
// search owes per send.
//
// last_sent moves only after the provider accepted the message. A crash in
// between risks one duplicate send on the next cycle; that at-least-once
// tradeoff is deliberate.
type Dispatcher struct {
	log     *zap.Logger
	db      *gorm.DB
	senders senders.Registry
}

func NewDispatcher(lc fx.Lifecycle, log *zap.Logger, db *gorm.DB, senders senders.Registry) *Dispatcher {
	return &Dispatcher{log, db, senders}
}

// SendDigest delivers one aggregated payload for one user. Audit contacts
// for every partner search in the payload are resolved before anything is
// sent, so a missing contact aborts the whole unit with last_sent untouched.
func (d *Dispatcher) SendDigest(ctx context.Context, digest *models.SearchDigest, results []feeds.Result, customMsg string, now time.Time) error {
	audits, err := d.resolveAudits(resultSearches(results))
	if err != nil {
		return err
	}

	since, _ := schedule.ReportWindow(digest.Frequency, now)
	format := &email.DigestEmailFormat{
		Digest:        digest,
		Results:       results,
		CustomMessage: customMsg,
		Since:         since,
	}

	if err := d.send(ctx, format, digest.Email); err != nil {
		return err
	}

	if err := d.markSent(resultSearches(results), now); err != nil {
		return err
	}
	return d.writeAudits(audits, format.Subject(), format.Body(), models.ChangeMsgAutomatic, now)
}

// SendSingle is the immediate, non-aggregated path: one search, one email.
func (d *Dispatcher) SendSingle(ctx context.Context, result feeds.Result, customMsg string, now time.Time) error {
	search := result.Search
	audits, err := d.resolveAudits([]*models.SavedSearch{search})
	if err != nil {
		return err
	}

	since, _ := schedule.ReportWindow(search.Frequency, now)
	format := &email.SingleEmailFormat{
		Result:        result,
		CustomMessage: d.customMessage(search, customMsg),
		Since:         since,
	}

	if err := d.send(ctx, format, search.Email); err != nil {
		return err
	}

	if err := d.markSent([]*models.SavedSearch{search}, now); err != nil {
		return err
	}
	return d.writeAudits(audits, format.Subject(), format.Body(), models.ChangeMsgAutomatic, now)
}

// SendInitial is the welcome email sent when a search is first created.
// It does not advance last_sent, so the first scheduled cycle still fires.
func (d *Dispatcher) SendInitial(ctx context.Context, search *models.SavedSearch, customMsg string, now time.Time) error {
	audits, err := d.resolveAudits([]*models.SavedSearch{search})
	if err != nil {
		return err
	}

	format := &email.InitialEmailFormat{
		Search:        search,
		CustomMessage: d.customMessage(search, customMsg),
	}
	if err := d.send(ctx, format, search.Email); err != nil {
		return err
	}

	return d.writeAudits(audits, format.Subject(), format.Body(), models.ChangeMsgInitial, now)
}

// SendUpdate notifies the owner that the search was changed by the system
// or an admin.
func (d *Dispatcher) SendUpdate(ctx context.Context, search *models.SavedSearch, message, customMsg string, now time.Time) error {
	audits, err := d.resolveAudits([]*models.SavedSearch{search})
	if err != nil {
		return err
	}

	format := &email.UpdateEmailFormat{
		Search:        search,
		Message:       message,
		CustomMessage: d.customMessage(search, customMsg),
	}
	if err := d.send(ctx, format, search.Email); err != nil {
		return err
	}

	return d.writeAudits(audits, format.Subject(), format.Body(), models.ChangeMsgUpdated, now)
}

// SendDisable tells the owner their search was turned off by the health
// monitor. No audit record; disables are not partner sends.
func (d *Dispatcher) SendDisable(ctx context.Context, search *models.SavedSearch) error {
	format := &email.DisableEmailFormat{Search: search}
	return d.send(ctx, format, search.Email)
}

func (d *Dispatcher) send(ctx context.Context, format email.Format, recipient string) error {
	sender, ok := d.senders["email"]
	if !ok {
		return fmt.Errorf("no email sender registered")
	}

	id, err := sender.Send(ctx, format.Subject(), format.Body(), recipient)
	if err != nil {
		d.log.Sugar().Errorw("Failed to send email", "recipient", recipient, "err", err)
		return err
	}
	d.log.Sugar().Infow("Sent email", "recipient", recipient, "message_id", id)
	return nil
}

func (d *Dispatcher) customMessage(search *models.SavedSearch, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return search.CustomMessage
}

func (d *Dispatcher) markSent(searches []*models.SavedSearch, now time.Time) error {
	if len(searches) == 0 {
		return nil
	}
	ids := make([]uint, len(searches))
	for i, s := range searches {
		ids[i] = s.ID
	}

	tx := d.db.Model(&models.SavedSearch{}).Where("id IN ?", ids).Update("last_sent", now)
	if err := tx.Error; err != nil {
		return err
	}
	for _, s := range searches {
		s.LastSent.Time, s.LastSent.Valid = now, true
	}
	return nil
}

// pendingAudit pairs a partner search with the contact its audit record
// must attach to.
type pendingAudit struct {
	search  *models.SavedSearch
	contact models.Contact
}

func (d *Dispatcher) resolveAudits(searches []*models.SavedSearch) ([]pendingAudit, error) {
	var audits []pendingAudit
	for _, search := range searches {
		if !search.IsPartner() {
			continue
		}

		var contact models.Contact
		tx := d.db.
			Where("partner_id = ?", search.Partner.PartnerID).
			Where("user_id = ?", search.UserID).
			First(&contact)
		if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: partner %d, search %d", ErrMissingAuditContact, search.Partner.PartnerID, search.ID)
		} else if err != nil {
			return nil, err
		}

		audits = append(audits, pendingAudit{search, contact})
	}
	return audits, nil
}

// writeAudits records one ContactRecord per partner send. The audit trail
// is contractually required, so a failed insert surfaces as an error even
// though the email is already out.
func (d *Dispatcher) writeAudits(audits []pendingAudit, subject, body, changeMsg string, now time.Time) error {
	var errs []error
	for _, audit := range audits {
		record := models.ContactRecord{
			PartnerID:    audit.search.Partner.PartnerID,
			ContactID:    audit.contact.ID,
			ContactType:  models.ContactTypePSSEmail,
			ContactName:  audit.contact.Name,
			ContactEmail: audit.search.Email,
			CreatedByID:  audit.search.Partner.CreatedByID,
			DateTime:     now,
			Subject:      subject,
			Notes:        body,
			ChangeMsg:    changeMsg,
		}
		if tx := d.db.Create(&record); tx.Error != nil {
			d.log.Sugar().Errorw("Failed to write audit record", "search_id", audit.search.ID, "err", tx.Error)
			errs = append(errs, fmt.Errorf("audit record for search %d: %w", audit.search.ID, tx.Error))
		}
	}
	return errors.Join(errs...)
}

func resultSearches(results []feeds.Result) []*models.SavedSearch {
	searches := make([]*models.SavedSearch, len(results))
	for i, r := range results {
		searches[i] = r.Search
	}
	return searches
}
