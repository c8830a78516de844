package inboxsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/inbox"
	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/tracker"
)

const (
	defaultMaxPageSize = 20
	defaultFetchLimit  = 200
)

// ErrEndReached is returned by FetchNextPage once the feed is exhausted,
// either because the fetch limit was hit or because the server has
// nothing left to return.
var ErrEndReached = errors.New("the end of the inbox feed has been reached, either because you've reached the fetch limit, or because the server doesn't have anything left for you")

// publicError is a failure whose message is safe to surface to end
// users. All diagnostic detail goes to the internal logs.
type publicError struct {
	msg string
}

func (e *publicError) Error() string { return e.msg }

// resultErrorPublic is the shared user-safe message for responses that
// are well-formed but unusable.
const resultErrorPublic = "The server could not complete your request in time. Please try again later."

// FetchResult reports the outcome of a FetchNewNotifications call.
type FetchResult struct {
	// Added holds the notifications newly added to the fetched list.
	Added []Notification

	// FoundNew is true when the server returned any notifications.
	FoundNew bool

	// EndReached is true when the server has no further pages.
	EndReached bool
}

// PageResult reports the outcome of a FetchNextPage call.
type PageResult struct {
	Added      []Notification
	EndReached bool
}

// Fetcher is a stateful inbox session scoped to one identity. It owns
// the pagination cursor and the in-memory fetched list, and decides on
// every page request whether to sync against the cache or cold-fetch.
//
// All network and store operations of one Fetcher run on a dedicated
// worker goroutine, serializing them in submission order. The fetched
// list itself is additionally mutex-guarded because mark-as-read,
// mark-as-deleted and Notifications are served from arbitrary caller
// goroutines.
type Fetcher struct {
	manager *Manager

	kind       model.FetcherKind
	identifier string
	authKey    string
	fetcherID  int64

	log *zap.Logger

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	maxPageSize  int
	fetchLimit   int
	filterSilent bool
	fetched      []*model.Notification
	cursor       string
	endReached   bool
}

// SetMaxPageSize overrides the page size requested from the server.
func (f *Fetcher) SetMaxPageSize(size int) {
	if size > 0 {
		f.mu.Lock()
		f.maxPageSize = size
		f.mu.Unlock()
	}
}

// SetFetchLimit caps how many notifications this session will hold in
// memory; reaching it makes the session terminal.
func (f *Fetcher) SetFetchLimit(limit int) {
	if limit > 0 {
		f.mu.Lock()
		f.fetchLimit = limit
		f.mu.Unlock()
	}
}

// SetFilterSilentNotifications controls whether silent notifications are
// hidden from results. Defaults to true.
func (f *Fetcher) SetFilterSilentNotifications(filter bool) {
	f.mu.Lock()
	f.filterSilent = filter
	f.mu.Unlock()
}

// Close stops the worker goroutine. Pending operations fail; the session
// must not be used afterwards.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// run is the worker loop: one operation in flight per Fetcher, FIFO.
func (f *Fetcher) run() {
	for {
		select {
		case job := <-f.jobs:
			job()
		case <-f.done:
			return
		}
	}
}

// enqueue submits work to the worker and waits for it. Once queued, a
// job always runs to completion; context cancellation only applies to
// the I/O the job itself performs.
func (f *Fetcher) enqueue(work func() error) error {
	result := make(chan error, 1)
	select {
	case f.jobs <- func() { result <- work() }:
	case <-f.done:
		return errors.New("inbox fetcher is closed")
	}
	return <-result
}

// EndReached reports whether the session is terminal: the server ran out
// of pages or the fetch limit was hit.
func (f *Fetcher) EndReached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endReached || len(f.fetched) >= f.fetchLimit
}

// FetchNewNotifications fetches from the top of the feed, replacing the
// in-memory fetched list with the fresh page.
func (f *Fetcher) FetchNewNotifications(ctx context.Context) (*FetchResult, error) {
	var result *FetchResult
	err := f.enqueue(func() error {
		resp, err := f.fetchPage(ctx, "")
		if err != nil {
			return err
		}

		added, err := f.integrate(resp, true)
		if err != nil {
			return err
		}

		f.mu.Lock()
		addedView := f.publicLocked(added)
		f.mu.Unlock()

		result = &FetchResult{
			Added:      addedView,
			FoundNew:   len(resp.Notifications) > 0,
			EndReached: !resp.HasMore,
		}
		return nil
	})
	return result, err
}

// FetchNextPage fetches the page below the current cursor. With no
// cursor yet it behaves like a refresh: the first page request and
// "fetch new" share code paths. Once the session is terminal it fails
// immediately without any I/O.
func (f *Fetcher) FetchNextPage(ctx context.Context) (*PageResult, error) {
	if f.EndReached() {
		return nil, ErrEndReached
	}

	var result *PageResult
	err := f.enqueue(func() error {
		if f.EndReached() {
			return ErrEndReached
		}

		f.mu.Lock()
		cursor := f.cursor
		f.mu.Unlock()

		resp, err := f.fetchPage(ctx, cursor)
		if err != nil {
			return err
		}

		added, err := f.integrate(resp, cursor == "")
		if err != nil {
			return err
		}

		f.mu.Lock()
		addedView := f.publicLocked(added)
		f.mu.Unlock()

		result = &PageResult{
			Added:      addedView,
			EndReached: !resp.HasMore,
		}
		return nil
	})
	return result, err
}

// fetchPage decides sync-vs-fetch for one page and runs the chosen
// protocol client. Runs on the worker goroutine.
func (f *Fetcher) fetchPage(ctx context.Context, cursor string) (*inbox.Response, error) {
	f.manager.cleanupOnce(ctx)

	f.mu.Lock()
	pageSize := f.maxPageSize
	f.mu.Unlock()

	cfg := inbox.Config{
		Transport:  f.manager.transport,
		Kind:       f.kind,
		Identifier: f.identifier,
		AuthKey:    f.authKey,
		Store:      f.manager.cacheStore(),
		FetcherID:  f.fetcherID,
		Log:        f.log,
	}

	// Reconcile against the cache when it has anything for this page;
	// a cold fetch is only needed when the cache comes up empty.
	if cfg.Store != nil && f.fetcherID > 0 {
		candidates, err := cfg.Store.Candidates(ctx, cursor, pageSize, f.fetcherID)
		if err != nil {
			f.log.Warn("could not read sync candidates, falling back to fetch", zap.Error(err))
		}
		if len(candidates) > 0 {
			return inbox.NewSyncClient(cfg).Sync(ctx, cursor, pageSize, candidates)
		}
	}

	if f.kind == model.FetcherKindUserIdentifier {
		if f.identifier == "" {
			return nil, &publicError{msg: "Inbox API Error: user identifier can't be empty"}
		}
		if f.authKey == "" {
			return nil, &publicError{msg: "Inbox API Error: authentication key can't be empty in user mode"}
		}
	}

	return inbox.NewFetchClient(cfg).Fetch(ctx, cursor, pageSize)
}

// integrate merges a protocol response into the session state and
// returns the newly added notifications.
func (f *Fetcher) integrate(resp *inbox.Response, refresh bool) ([]*model.Notification, error) {
	if len(resp.Notifications) == 0 {
		if resp.DidTimeout {
			f.log.Debug("server did timeout but returned no notifications at all")
			return nil, &publicError{msg: resultErrorPublic}
		}
		if resp.HasMore {
			f.log.Debug("server returned no notifications but told us there were more")
			return nil, &publicError{msg: resultErrorPublic}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if refresh {
		f.fetched = nil
	}

	added := model.MergeBySendID(&f.fetched, resp.Notifications, f.log)

	f.cursor = resp.Cursor
	f.endReached = !resp.HasMore

	return added, nil
}

// Notifications returns the public view of everything fetched so far in
// this session, newest first.
func (f *Fetcher) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publicLocked(f.fetched)
}

// publicLocked converts internal notifications to their public view,
// filtering silent ones when configured to. Callers must hold f.mu.
func (f *Fetcher) publicLocked(internal []*model.Notification) []Notification {
	result := make([]Notification, 0, len(internal))
	for _, n := range internal {
		if f.filterSilent && n.Silent() {
			f.log.Debug("filtering silent notification",
				zap.String("notificationId", n.Identifiers.Identifier))
			continue
		}
		result = append(result, Notification{content: n})
	}
	return result
}

// findHeld locates the held notification matching the primary identifier
// of the given public view. Callers must hold f.mu.
func (f *Fetcher) findHeld(identifier string) *model.Notification {
	for _, held := range f.fetched {
		if held.Identifiers.Identifier == identifier {
			return held
		}
	}
	return nil
}

// MarkAsRead marks the notification read locally and in the cache, and
// emits one tracking event per merged delivery.
func (f *Fetcher) MarkAsRead(ctx context.Context, n Notification) {
	id := n.Identifier()

	f.mu.Lock()
	held := f.findHeld(id)
	if held == nil {
		f.mu.Unlock()
		f.log.Debug("could not find the notification to mark as read",
			zap.String("notificationId", id))
		return
	}
	events := tracker.EventsFor(tracker.EventMarkAsRead, held, f.kind, f.identifier)
	held.Unread = false
	// The caller's view may wrap an earlier copy of the same delivery.
	n.content.Unread = false
	f.mu.Unlock()

	f.track(events)
	if s := f.manager.cacheStore(); s != nil {
		if err := s.MarkRead(ctx, id); err != nil {
			f.log.Warn("could not persist read state", zap.String("notificationId", id), zap.Error(err))
		}
	}
}

// MarkAsDeleted deletes the notification locally: it is removed from the
// fetched list and soft-deleted in the cache.
func (f *Fetcher) MarkAsDeleted(ctx context.Context, n Notification) {
	id := n.Identifier()

	f.mu.Lock()
	held := f.findHeld(id)
	if held == nil {
		f.mu.Unlock()
		f.log.Debug("could not find the notification to mark as deleted",
			zap.String("notificationId", id))
		return
	}
	events := tracker.EventsFor(tracker.EventMarkAsDeleted, held, f.kind, f.identifier)
	held.Deleted = true
	n.content.Deleted = true
	for i, fetched := range f.fetched {
		if fetched == held {
			f.fetched = append(f.fetched[:i], f.fetched[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	f.track(events)
	if s := f.manager.cacheStore(); s != nil {
		if err := s.MarkDeleted(ctx, id); err != nil {
			f.log.Warn("could not persist deletion", zap.String("notificationId", id), zap.Error(err))
		}
	}
}

// MarkAllAsRead marks every held notification read, persists the bulk
// update, and emits a single event set representing the batch.
func (f *Fetcher) MarkAllAsRead(ctx context.Context) {
	f.mu.Lock()
	if len(f.fetched) == 0 {
		f.mu.Unlock()
		return
	}
	events := tracker.EventsFor(tracker.EventMarkAllAsRead, f.fetched[0], f.kind, f.identifier)
	for _, held := range f.fetched {
		held.Unread = false
	}
	f.mu.Unlock()

	f.track(events)
	if s := f.manager.cacheStore(); s != nil && f.fetcherID > 0 {
		if _, err := s.MarkAllRead(ctx, time.Now(), f.fetcherID); err != nil {
			f.log.Warn("could not persist bulk read state", zap.Error(err))
		}
	}
}

func (f *Fetcher) track(events []tracker.Event) {
	for _, ev := range events {
		f.manager.tracker.Track(ev.Name, ev.Data)
	}
}
