package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/store"
	"github.com/tmarcon/inboxsync/internal/webservice"
	"github.com/tmarcon/inboxsync/tests/testutil"
)

// syncFixture wires a test store with pre-cached notifications and a
// sync client pointed at the given handler.
func syncFixture(t *testing.T, handler http.HandlerFunc, cached ...*model.Notification) (*SyncClient, store.Store, int64) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s := testutil.NewTestStore(t)
	ctx := context.Background()
	fetcherID, err := s.GetOrCreateFetcher(ctx, model.FetcherKindInstallation, "device-a")
	require.NoError(t, err)

	for _, n := range cached {
		require.NoError(t, s.InsertOrReplace(ctx, n, fetcherID))
	}

	client := NewSyncClient(Config{
		Transport:  webservice.NewClient(server.URL, zap.NewNop()),
		Kind:       model.FetcherKindInstallation,
		Identifier: "device-a",
		Store:      s,
		FetcherID:  fetcherID,
		Log:        zap.NewNop(),
	})
	return client, s, fetcherID
}

func cachedNotification(id, sendID string, date time.Time, unread bool) *model.Notification {
	return &model.Notification{
		Title:   "cached-" + id,
		Body:    "body-" + id,
		Unread:  unread,
		Date:    date,
		Payload: map[string]string{
			"title":     "cached-" + id,
			"msg":       "body-" + id,
			"com.batch": `{"t":"t","i":"` + sendID + `"}`,
		},
		Identifiers: model.NotificationIdentifiers{
			Identifier: id,
			SendID:     sendID,
		},
	}
}

func TestSyncSendsCandidateStates(t *testing.T) {
	var gotBody []byte
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"hasMore": false, "notifications": []}`))
	}

	client, _, _ := syncFixture(t, handler)
	_, err := client.Sync(context.Background(), "cursor-1", 20, []model.Candidate{
		{Identifier: "n1", Unread: true},
		{Identifier: "n2", Unread: false},
	})
	require.NoError(t, err)

	// Unread inverts to the wire's read flag.
	assert.JSONEq(t, `{"notifications":[
		{"notificationId":"n1","read":false},
		{"notificationId":"n2","read":true}
	]}`, string(gotBody))
}

func TestSyncAppliesPartialUpdateToCandidates(t *testing.T) {
	date := time.Now().Truncate(time.Millisecond)
	handler := func(w http.ResponseWriter, r *http.Request) {
		// The server confirms n1 with a changed read state and title
		// only; everything else must survive from the cache.
		w.Write([]byte(`{
			"hasMore": false,
			"notifications": [
				{"notificationId": "n1", "title": "updated title", "read": true}
			]
		}`))
	}

	client, s, fetcherID := syncFixture(t, handler,
		cachedNotification("n1", "s1", date, true),
	)
	ctx := context.Background()

	resp, err := client.Sync(ctx, "", 20, []model.Candidate{{Identifier: "n1", Unread: true}})
	require.NoError(t, err)

	require.Len(t, resp.Notifications, 1)
	got := resp.Notifications[0]
	assert.Equal(t, "updated title", got.Title)
	assert.False(t, got.Unread)
	// Untouched fields come back from the cache.
	assert.Equal(t, "body-n1", got.Body)
	assert.Equal(t, "s1", got.Identifiers.SendID)
	assert.Equal(t, date.UnixMilli(), got.Date.UnixMilli())

	// And the store agrees with what the caller saw.
	cached, err := s.Notifications(ctx, []string{"n1"}, fetcherID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "updated title", cached[0].Title)
}

func TestSyncInsertsUnknownNotifications(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hasMore": false,
			"notifications": [
				{
					"notificationId": "n-new",
					"sendId": "s-new",
					"notificationTime": 1700000000000,
					"read": false,
					"payload": {"title": "fresh", "msg": "fresh body", "com.batch": {"t": "c", "i": "s-new"}}
				}
			]
		}`))
	}

	client, s, fetcherID := syncFixture(t, handler,
		cachedNotification("n1", "s1", time.Now(), true),
	)
	ctx := context.Background()

	resp, err := client.Sync(ctx, "", 20, []model.Candidate{{Identifier: "n1", Unread: true}})
	require.NoError(t, err)

	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "n-new", resp.Notifications[0].Identifiers.Identifier)
	assert.Equal(t, "fresh", resp.Notifications[0].Title)

	cached, err := s.Notifications(ctx, []string{"n-new"}, fetcherID)
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestSyncAppliesServerCacheOperations(t *testing.T) {
	base := time.Now().Truncate(time.Millisecond)
	cutoff := base.Add(time.Minute)

	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"hasMore": false,
			"cache": {
				"lastMarkAllAsRead": %d,
				"delete": ["n-gone", ""]
			},
			"notifications": [
				{"notificationId": "n1"}
			]
		}`, cutoff.UnixMilli())
	}

	client, s, fetcherID := syncFixture(t, handler,
		cachedNotification("n1", "s1", base, true),
		cachedNotification("n-gone", "s2", base, true),
	)
	ctx := context.Background()

	resp, err := client.Sync(ctx, "", 20, []model.Candidate{
		{Identifier: "n1", Unread: true},
		{Identifier: "n-gone", Unread: true},
	})
	require.NoError(t, err)

	// The deleted row is gone from the cache entirely.
	candidates, err := s.Candidates(ctx, "", 10, fetcherID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "n1", candidates[0].Identifier)

	// The bulk mark-all-read landed before the page was re-read.
	require.Len(t, resp.Notifications, 1)
	assert.False(t, resp.Notifications[0].Unread)
}

func TestSyncSkipsInvalidElements(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hasMore": false,
			"notifications": [
				"not an object",
				{"noId": true},
				{"notificationId": "n1", "read": true}
			]
		}`))
	}

	client, _, _ := syncFixture(t, handler,
		cachedNotification("n1", "s1", time.Now(), true),
	)

	resp, err := client.Sync(context.Background(), "", 20, []model.Candidate{{Identifier: "n1", Unread: true}})
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "n1", resp.Notifications[0].Identifiers.Identifier)
}

func TestSyncTransportFailure(t *testing.T) {
	client := NewSyncClient(Config{
		Transport:  webservice.NewClient("http://127.0.0.1:1", zap.NewNop()),
		Kind:       model.FetcherKindInstallation,
		Identifier: "device-a",
		Store:      testutil.NewTestStore(t),
		FetcherID:  1,
		Log:        zap.NewNop(),
	})

	_, err := client.Sync(context.Background(), "", 20, nil)
	require.Error(t, err)
	assert.Equal(t, msgTransport, err.Error())
}

func TestUpdateFromWireFields(t *testing.T) {
	var wire wireNotification
	require.NoError(t, json.Unmarshal([]byte(`{
		"notificationId": "n1",
		"sendId": "s2",
		"msg": "new body",
		"read": true,
		"notificationTime": 1700000000000
	}`), &wire))

	u := updateFromWire(&wire)
	assert.Equal(t, "n1", u.NotificationID)
	require.NotNil(t, u.SendID)
	assert.Equal(t, "s2", *u.SendID)
	require.NotNil(t, u.Body)
	assert.Equal(t, "new body", *u.Body)
	assert.Nil(t, u.Title)
	require.NotNil(t, u.Unread)
	assert.False(t, *u.Unread)
	require.NotNil(t, u.Date)
	assert.Equal(t, int64(1700000000000), u.Date.UnixMilli())
	assert.Nil(t, u.Payload)
	assert.Nil(t, u.InstallID)
}
