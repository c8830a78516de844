package model

import "time"

// Source identifies what kind of server-side send produced a notification.
type Source int

const (
	SourceUnknown Source = iota
	SourceCampaign
	SourceTransactional
	SourceTrigger
)

// String returns the lowercase name of the source.
func (s Source) String() string {
	switch s {
	case SourceCampaign:
		return "campaign"
	case SourceTransactional:
		return "transactional"
	case SourceTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// FetcherKind selects which identity a fetcher session is scoped to.
type FetcherKind int

const (
	// FetcherKindInstallation scopes the feed to a device installation id.
	FetcherKindInstallation FetcherKind = iota

	// FetcherKindUserIdentifier scopes the feed to a custom user id and
	// requires an authentication key.
	FetcherKindUserIdentifier
)

// PathElement returns the URL path segment used by the inbox webservice
// for this fetcher kind.
func (k FetcherKind) PathElement() string {
	if k == FetcherKindUserIdentifier {
		return "custom"
	}
	return "install"
}

// NotificationIdentifiers is the compound identity of one delivery.
// A logical notification can accumulate several of these when the server
// redelivers the same send under a different identity.
type NotificationIdentifiers struct {
	// Identifier is the globally unique id of this delivery.
	Identifier string

	// SendID groups deliveries belonging to the same logical send.
	SendID string

	// InstallID is the installation the delivery targeted, if any.
	InstallID string

	// CustomID is the user identifier the delivery targeted, if any.
	CustomID string

	// AdditionalData carries opaque tracking parameters extracted from
	// the payload's internal data block.
	AdditionalData map[string]any
}

// Valid reports whether both mandatory identifiers are present.
func (i *NotificationIdentifiers) Valid() bool {
	return i != nil && i.Identifier != "" && i.SendID != ""
}

// Notification is the internal representation of one inbox entry.
type Notification struct {
	Title string
	Body  string

	Source Source

	Unread  bool
	Deleted bool

	// Date is the receipt date reported by the server.
	Date time.Time

	// Payload is the raw push payload, coerced to string values.
	Payload map[string]string

	Identifiers NotificationIdentifiers

	// DuplicateIdentifiers holds the identifier sets of duplicate
	// deliveries absorbed during merging. Nil until the first merge.
	DuplicateIdentifiers []NotificationIdentifiers
}

// Valid is the integrity predicate applied after parsing a notification
// from the network or from a database row.
func (n *Notification) Valid() bool {
	return n != nil &&
		!n.Date.IsZero() &&
		len(n.Payload) > 0 &&
		n.Identifiers.Valid()
}

// Silent reports whether this notification has no displayable body.
// Silent notifications are filtered out of the public fetched list.
func (n *Notification) Silent() bool {
	return n.Body == ""
}

// AddDuplicateIdentifiers records the identity of a duplicate delivery.
func (n *Notification) AddDuplicateIdentifiers(ids NotificationIdentifiers) {
	n.DuplicateIdentifiers = append(n.DuplicateIdentifiers, ids)
}

// AllIdentifiers returns the primary identifiers followed by every
// absorbed duplicate set.
func (n *Notification) AllIdentifiers() []NotificationIdentifiers {
	all := make([]NotificationIdentifiers, 0, 1+len(n.DuplicateIdentifiers))
	all = append(all, n.Identifiers)
	all = append(all, n.DuplicateIdentifiers...)
	return all
}

// Candidate is the lightweight projection of a cached notification
// offered to the server during a sync call.
type Candidate struct {
	Identifier string
	Unread     bool
}
