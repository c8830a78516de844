// Package inboxsync is an inbox synchronization and local cache engine.
// It fetches a paginated feed of per-installation or per-user
// notifications from a remote inbox service, reconciles it against a
// local SQLite cache, deduplicates redelivered notifications, and
// exposes a consistent, mutable read/unread/deleted view.
package inboxsync

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/store"
	"github.com/tmarcon/inboxsync/internal/webservice"
)

// Tracker receives one analytics event per notification identifier set
// when the user marks notifications read or deleted. Implementations
// must be safe for concurrent use and must not block.
type Tracker interface {
	Track(name string, data map[string]any)
}

type nopTracker struct{}

func (nopTracker) Track(string, map[string]any) {}

// Options configures a Manager.
type Options struct {
	// BaseURL is the root URL of the inbox webservice.
	BaseURL string

	// DatabasePath is where the SQLite cache lives. Empty disables
	// caching entirely: every page request becomes a cold fetch and
	// nothing is persisted.
	DatabasePath string

	// Logger receives all internal diagnostics. Defaults to a no-op.
	Logger *zap.Logger

	// Tracker receives mutation events. Defaults to a no-op.
	Tracker Tracker
}

// Manager owns the shared cache store and transport, and creates Fetcher
// sessions. One Manager is meant to live for the whole process; the
// one-time cache purge is guarded here rather than by global state.
type Manager struct {
	store     store.Store
	transport *webservice.Client
	log       *zap.Logger
	tracker   Tracker

	cleaned atomic.Bool
}

// Open creates a Manager, opening (or creating) the cache database when
// a path is configured.
func Open(opts Options) (*Manager, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("inboxsync: base URL is required")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tr := opts.Tracker
	if tr == nil {
		tr = nopTracker{}
	}

	m := &Manager{
		transport: webservice.NewClient(opts.BaseURL, log),
		log:       log,
		tracker:   tr,
	}

	if opts.DatabasePath != "" {
		s, err := store.NewSQLiteStore(opts.DatabasePath, log)
		if err != nil {
			return nil, fmt.Errorf("inboxsync: opening cache: %w", err)
		}
		m.store = s
	}

	return m, nil
}

// Close releases the cache database. Fetchers created by this Manager
// must not be used afterwards.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// SetOptedOut toggles the global opt-out state. While opted out, every
// network operation fails with a distinct opt-out message.
func (m *Manager) SetOptedOut(optedOut bool) {
	m.transport.SetOptedOut(optedOut)
}

// Wipe clears all cached state for every fetcher identity.
func (m *Manager) Wipe(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.Wipe(ctx)
}

// FetcherForInstallation creates a fetcher session scoped to a device
// installation id.
func (m *Manager) FetcherForInstallation(installID string) *Fetcher {
	return m.newFetcher(model.FetcherKindInstallation, installID, "")
}

// FetcherForUser creates a fetcher session scoped to a custom user
// identifier, authenticated with the given key.
func (m *Manager) FetcherForUser(userIdentifier, authKey string) *Fetcher {
	return m.newFetcher(model.FetcherKindUserIdentifier, userIdentifier, authKey)
}

func (m *Manager) newFetcher(kind model.FetcherKind, identifier, authKey string) *Fetcher {
	fetcherID := store.NoFetcher
	if m.store != nil {
		id, err := m.store.GetOrCreateFetcher(context.Background(), kind, identifier)
		if err != nil {
			m.log.Warn("could not resolve fetcher id, running without cache",
				zap.String("identifier", identifier), zap.Error(err))
		}
		fetcherID = id
	}

	f := &Fetcher{
		manager:      m,
		kind:         kind,
		identifier:   identifier,
		authKey:      authKey,
		fetcherID:    fetcherID,
		maxPageSize:  defaultMaxPageSize,
		fetchLimit:   defaultFetchLimit,
		filterSilent: true,
		log:          m.log,
		jobs:         make(chan func()),
		done:         make(chan struct{}),
	}
	go f.run()
	return f
}

// cacheStore returns the shared store, or nil when caching is disabled.
func (m *Manager) cacheStore() store.Store {
	return m.store
}

// cleanupOnce purges expired cache rows at most once per Manager
// lifetime, before the first fetch or sync of any of its fetchers.
func (m *Manager) cleanupOnce(ctx context.Context) {
	if m.store == nil {
		return
	}
	if !m.cleaned.CompareAndSwap(false, true) {
		return
	}
	if err := m.store.PurgeExpired(ctx); err != nil {
		m.log.Warn("could not purge expired notifications", zap.Error(err))
	}
}
