package store

import (
	"context"
	"time"

	"github.com/tmarcon/inboxsync/internal/model"
)

// NoFetcher is returned by GetOrCreateFetcher when no usable fetcher row
// exists or could be created. Callers treat it as "operate without cache".
const NoFetcher int64 = -1

// RetentionWindow is how long cached notifications are kept before the
// periodic purge removes them.
const RetentionWindow = 90 * 24 * time.Hour

// NotificationUpdate is a partial update extracted from a sync response.
// Nil fields were absent from the response and must be left untouched.
type NotificationUpdate struct {
	NotificationID string

	SendID  *string
	Title   *string
	Body    *string
	Unread  *bool
	Date    *time.Time
	Payload map[string]string

	InstallID *string
	CustomID  *string
}

// Empty reports whether the update carries nothing beyond the id, in
// which case the cached row is already up to date.
func (u *NotificationUpdate) Empty() bool {
	return u.SendID == nil && u.Title == nil && u.Body == nil &&
		u.Unread == nil && u.Date == nil && u.Payload == nil &&
		u.InstallID == nil && u.CustomID == nil
}

// Store is the persistence interface for the inbox cache: fetcher
// sessions, notifications, and the links between them.
//
// "Not found" is never an error; methods error only on storage-layer
// failure, which callers may treat as "the operation had no effect".
type Store interface {
	// GetOrCreateFetcher resolves the surrogate id for a (kind,
	// identifier) pair, creating the row on first use. Returns
	// NoFetcher on an empty identifier or unrecoverable failure.
	GetOrCreateFetcher(ctx context.Context, kind model.FetcherKind, identifier string) (int64, error)

	// Candidates returns up to limit cached entries for the fetcher,
	// strictly older than the cursor notification when one is given.
	// An unknown cursor yields an empty list.
	Candidates(ctx context.Context, cursor string, limit int, fetcherID int64) ([]model.Candidate, error)

	// Notifications loads the non-deleted cached rows for the given ids
	// belonging to the fetcher, ordered by date descending.
	Notifications(ctx context.Context, ids []string, fetcherID int64) ([]*model.Notification, error)

	// InsertOrReplace upserts a notification and its fetcher link in one
	// transaction.
	InsertOrReplace(ctx context.Context, n *model.Notification, fetcherID int64) error

	// UpdatePartial applies only the fields present in the update. An
	// empty update is a no-op success.
	UpdatePartial(ctx context.Context, u *NotificationUpdate, fetcherID int64) error

	// MarkAllRead clears the unread flag on every row linked to the
	// fetcher received at or before cutoff. Returns the affected count.
	MarkAllRead(ctx context.Context, cutoff time.Time, fetcherID int64) (int64, error)

	// MarkRead and MarkDeleted flip per-notification flags. They are
	// deliberately not fetcher-scoped.
	MarkRead(ctx context.Context, notificationID string) error
	MarkDeleted(ctx context.Context, notificationID string) error

	// Delete hard-deletes rows and their fetcher links in one
	// transaction. Returns false on an empty id list.
	Delete(ctx context.Context, ids []string) (bool, error)

	// PurgeExpired hard-deletes every notification older than the
	// retention window.
	PurgeExpired(ctx context.Context) error

	// Wipe clears all cached state.
	Wipe(ctx context.Context) error

	Close() error
}
