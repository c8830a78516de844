package inboxsync

import (
	"time"

	"github.com/tmarcon/inboxsync/internal/model"
)

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
	return model.Source(s).String()
}

// Notification is the public, read-only view of one inbox entry. Use the
// owning Fetcher to mutate it (mark read, delete).
type Notification struct {
	content *model.Notification
}

// Identifier is the unique id of this notification. Make no assumption
// about its format; it can change at any time.
func (n Notification) Identifier() string {
	return n.content.Identifiers.Identifier
}

// Title returns the notification title; empty if the push had none.
func (n Notification) Title() string {
	return n.content.Title
}

// Body returns the notification body; empty for silent notifications.
func (n Notification) Body() string {
	return n.content.Body
}

// Source reports what kind of send produced this notification.
func (n Notification) Source() Source {
	return Source(n.content.Source)
}

// Unread reports whether the notification is still unread.
func (n Notification) Unread() bool {
	return n.content.Unread
}

// Date is the receipt date reported by the server.
func (n Notification) Date() time.Time {
	return n.content.Date
}

// Silent reports whether this notification has no displayable body.
// Silent notifications are hidden from the fetched list unless the
// fetcher is configured otherwise.
func (n Notification) Silent() bool {
	return n.content.Silent()
}

// Payload returns a copy of the raw push payload.
func (n Notification) Payload() map[string]string {
	payload := make(map[string]string, len(n.content.Payload))
	for k, v := range n.content.Payload {
		payload[k] = v
	}
	return payload
}
