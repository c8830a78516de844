// Package tracker defines the analytics hook the fetcher reports local
// mutations through.
package tracker

import "github.com/tmarcon/inboxsync/internal/model"

// Inbox event names.
const (
	EventMarkAsRead    = "inbox_mark_as_read"
	EventMarkAsDeleted = "inbox_mark_as_deleted"
	EventMarkAllAsRead = "inbox_mark_all_as_read"
)

// Event is one tracking record for a single identifier set. A merged
// notification produces one event per identifier set (primary plus each
// absorbed duplicate) so downstream analytics sees every delivery.
type Event struct {
	Name string
	Data map[string]any
}

// EventsFor builds one event per identifier set of the notification.
// In user-identifier mode the fetcher identifier stands in for deliveries
// that carry no custom id of their own.
func EventsFor(name string, n *model.Notification, kind model.FetcherKind, fetcherIdentifier string) []Event {
	if n == nil {
		return nil
	}

	events := make([]Event, 0, 1+len(n.DuplicateIdentifiers))
	for _, ids := range n.AllIdentifiers() {
		customID := ids.CustomID
		if customID == "" && kind == model.FetcherKindUserIdentifier {
			customID = fetcherIdentifier
		}

		data := map[string]any{
			"notificationId": ids.Identifier,
		}
		if ids.InstallID != "" {
			data["notificationInstallId"] = ids.InstallID
		}
		if customID != "" {
			data["notificationCustomId"] = customID
		}
		if ids.AdditionalData != nil {
			data["additionalData"] = ids.AdditionalData
		}

		events = append(events, Event{Name: name, Data: data})
	}

	return events
}
