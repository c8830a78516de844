// Package inbox implements the two inbox protocol clients: the one-shot
// fetch (cold pull) and the incremental sync (reconciliation against the
// local cache).
package inbox

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/store"
	"github.com/tmarcon/inboxsync/internal/webservice"
)

// authHeader carries the per-session authentication key in
// user-identifier mode.
const authHeader = "X-CustomID-Auth"

// Config configures a protocol client for one fetcher session.
type Config struct {
	Transport  *webservice.Client
	Kind       model.FetcherKind
	Identifier string

	// AuthKey is required in user-identifier mode, unused otherwise.
	AuthKey string

	// Store and FetcherID enable cache persistence. FetcherID <= 0
	// disables all cache interaction for this session.
	Store     store.Store
	FetcherID int64

	Log *zap.Logger
}

func (c *Config) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Config) path() string {
	return "/" + c.Kind.PathElement() + "/" + url.PathEscape(c.Identifier)
}

func (c *Config) headers() map[string]string {
	if c.AuthKey == "" {
		return nil
	}
	return map[string]string{authHeader: c.AuthKey}
}

func (c *Config) cacheBacked() bool {
	return c.Store != nil && c.FetcherID > 0
}

// FetchClient performs the one-shot "full fetch" request: it pulls a page
// from the server with no local reconciliation and caches the results.
type FetchClient struct {
	cfg Config
	log *zap.Logger
}

// NewFetchClient builds a fetch client for one fetcher session.
func NewFetchClient(cfg Config) *FetchClient {
	return &FetchClient{cfg: cfg, log: cfg.logger()}
}

// Fetch retrieves one page of notifications starting below the given
// cursor (empty cursor means "from the top") and persists every parsed
// notification when the session is cache-backed.
func (c *FetchClient) Fetch(ctx context.Context, from string, limit int) (*Response, error) {
	raw, err := c.cfg.Transport.Get(ctx, c.cfg.path(), webservice.BuildQuery(from, limit), c.cfg.headers())
	if err != nil {
		c.log.Debug("inbox fetch failed", zap.Error(err))
		return nil, wrapTransportError(err)
	}

	wire, err := decodeResponse(raw)
	if err != nil {
		c.log.Debug("inbox fetch response parsing failed", zap.Error(err))
		return nil, newShapeError(err)
	}

	resp := &Response{
		HasMore:       *wire.HasMore,
		DidTimeout:    wire.Timeout,
		Cursor:        wire.Cursor,
		Notifications: parseNotificationList(*wire.Notifications, c.log),
	}

	if c.cfg.cacheBacked() {
		for _, n := range resp.Notifications {
			c.log.Debug("adding notification to cache",
				zap.String("notificationId", n.Identifiers.Identifier))
			if err := c.cfg.Store.InsertOrReplace(ctx, n, c.cfg.FetcherID); err != nil {
				// A cache write failure must not fail the fetch.
				c.log.Warn("could not cache notification",
					zap.String("notificationId", n.Identifiers.Identifier),
					zap.Error(err))
			}
		}
	}

	return resp, nil
}
