package inbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/store"
	"github.com/tmarcon/inboxsync/internal/webservice"
)

// SyncClient performs the incremental reconciliation request: it tells
// the server what is cached for this page and applies the returned adds,
// partial updates, deletions and bulk operations to the store. The
// response notifications are re-read from the store afterwards so the
// caller always sees database-consistent state.
type SyncClient struct {
	cfg Config
	log *zap.Logger
}

// NewSyncClient builds a sync client for one cache-backed fetcher session.
func NewSyncClient(cfg Config) *SyncClient {
	return &SyncClient{cfg: cfg, log: cfg.logger()}
}

// syncRequest is the POST body listing the locally cached candidates.
type syncRequest struct {
	Notifications []syncCandidate `json:"notifications"`
}

type syncCandidate struct {
	NotificationID string `json:"notificationId"`
	Read           bool   `json:"read"`
}

// Sync reconciles the given candidates with the server for one page.
func (c *SyncClient) Sync(
	ctx context.Context,
	from string,
	limit int,
	candidates []model.Candidate,
) (*Response, error) {
	body := syncRequest{Notifications: make([]syncCandidate, 0, len(candidates))}
	for _, cand := range candidates {
		body.Notifications = append(body.Notifications, syncCandidate{
			NotificationID: cand.Identifier,
			Read:           !cand.Unread,
		})
	}

	raw, err := c.cfg.Transport.Post(ctx, c.cfg.path(), webservice.BuildQuery(from, limit), c.cfg.headers(), body)
	if err != nil {
		c.log.Debug("inbox sync failed", zap.Error(err))
		return nil, wrapTransportError(err)
	}

	wire, err := decodeResponse(raw)
	if err != nil {
		c.log.Debug("inbox sync response parsing failed", zap.Error(err))
		return nil, newShapeError(err)
	}

	resp := &Response{
		HasMore:    *wire.HasMore,
		DidTimeout: wire.Timeout,
		Cursor:     wire.Cursor,
	}

	// Server-driven bulk operations apply before the notification list.
	if wire.Cache != nil {
		c.applyCacheOperations(ctx, wire.Cache)
	}

	ids := c.applyNotifications(ctx, *wire.Notifications, candidates)

	notifications, err := c.cfg.Store.Notifications(ctx, ids, c.cfg.FetcherID)
	if err != nil {
		c.log.Warn("could not re-read synced notifications", zap.Error(err))
	}
	resp.Notifications = notifications

	return resp, nil
}

// applyCacheOperations handles the response's mark-all-read and bulk
// delete instructions.
func (c *SyncClient) applyCacheOperations(ctx context.Context, cache *wireCache) {
	if cache.LastMarkAllAsRead > 0 {
		cutoff := time.UnixMilli(cache.LastMarkAllAsRead)
		if _, err := c.cfg.Store.MarkAllRead(ctx, cutoff, c.cfg.FetcherID); err != nil {
			c.log.Warn("could not apply server mark-all-read", zap.Error(err))
		}
	}

	deleteIDs := make([]string, 0, len(cache.Delete))
	for _, id := range cache.Delete {
		if id != "" {
			deleteIDs = append(deleteIDs, id)
		}
	}
	if len(deleteIDs) > 0 {
		if _, err := c.cfg.Store.Delete(ctx, deleteIDs); err != nil {
			c.log.Warn("could not apply server deletions", zap.Error(err))
		}
	}
}

// applyNotifications routes each raw element to either a partial update
// (known candidate) or a full parse and insert (new notification), and
// returns the ids that made it into the store.
func (c *SyncClient) applyNotifications(
	ctx context.Context,
	raw []json.RawMessage,
	candidates []model.Candidate,
) []string {
	ids := make([]string, 0, len(raw))

	for _, item := range raw {
		var wire wireNotification
		if err := json.Unmarshal(item, &wire); err != nil {
			c.log.Warn("invalid element in notification array, skipping", zap.Error(err))
			continue
		}
		if wire.NotificationID == nil || *wire.NotificationID == "" {
			c.log.Warn("element without an id in notification array, skipping")
			continue
		}
		id := *wire.NotificationID

		if isCandidate(id, candidates) {
			// Already cached: apply only the fields the server sent.
			update := updateFromWire(&wire)
			if err := c.cfg.Store.UpdatePartial(ctx, update, c.cfg.FetcherID); err != nil {
				c.log.Warn("could not apply notification update",
					zap.String("notificationId", id), zap.Error(err))
				continue
			}
			ids = append(ids, id)
			continue
		}

		n, err := parseNotification(item)
		if err != nil {
			c.log.Warn("failed to parse notification content, skipping", zap.Error(err))
			continue
		}
		if err := c.cfg.Store.InsertOrReplace(ctx, n, c.cfg.FetcherID); err != nil {
			c.log.Warn("could not cache notification",
				zap.String("notificationId", id), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}

	return ids
}

// updateFromWire converts the fields present on a raw sync element into a
// partial store update.
func updateFromWire(wire *wireNotification) *store.NotificationUpdate {
	u := &store.NotificationUpdate{NotificationID: *wire.NotificationID}

	u.SendID = wire.SendID
	u.Title = wire.Title
	u.Body = wire.Body
	u.InstallID = wire.InstallID
	u.CustomID = wire.CustomID

	if wire.Read != nil {
		unread := !*wire.Read && !boolValue(wire.Opened)
		u.Unread = &unread
	}
	if wire.NotificationTime != nil {
		date := time.UnixMilli(*wire.NotificationTime)
		u.Date = &date
	}
	if wire.Payload != nil {
		u.Payload = coercePayload(wire.Payload)
	}

	return u
}

func isCandidate(notificationID string, candidates []model.Candidate) bool {
	for _, c := range candidates {
		if c.Identifier == notificationID {
			return true
		}
	}
	return false
}
