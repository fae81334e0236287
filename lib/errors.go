package lib

import "errors"

var (
	// ErrDuplicateSearchURL rejects a second saved search with the same URL
	// for the same user.
	ErrDuplicateSearchURL = errors.New("saved search URLs must be unique per user")

	// ErrMissingAuditContact aborts a partner send when no contact matches
	// the recipient. The audit trail is contractually required, so the send
	// must be retried or escalated rather than silently skipped.
	ErrMissingAuditContact = errors.New("no contact matches the partner send recipient")

	ErrSearchNotFound = errors.New("saved search not found")
)
