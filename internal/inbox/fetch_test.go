package inbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
	"github.com/tmarcon/inboxsync/internal/webservice"
	"github.com/tmarcon/inboxsync/tests/testutil"
)

const fetchResponse = `{
	"hasMore": true,
	"timeout": false,
	"cursor": "cursor-next",
	"notifications": [
		{
			"notificationId": "n1",
			"sendId": "s1",
			"notificationTime": 1700000000000,
			"installId": "install-1",
			"read": false,
			"payload": {
				"title": "Hello",
				"msg": "World",
				"com.batch": {"t": "c", "i": "s1"}
			}
		},
		{
			"notificationId": "broken",
			"notificationTime": 1700000000000,
			"payload": {"title": "no send id"}
		}
	]
}`

func fetchConfig(t *testing.T, serverURL string) Config {
	t.Helper()
	return Config{
		Transport:  webservice.NewClient(serverURL, zap.NewNop()),
		Kind:       model.FetcherKindInstallation,
		Identifier: "device-a",
		Log:        zap.NewNop(),
	}
}

func TestFetchParsesResponse(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(fetchResponse))
	}))
	defer server.Close()

	client := NewFetchClient(fetchConfig(t, server.URL))
	resp, err := client.Fetch(context.Background(), "", 20)
	require.NoError(t, err)

	assert.Equal(t, "/install/device-a", gotPath)
	assert.True(t, resp.HasMore)
	assert.False(t, resp.DidTimeout)
	assert.Equal(t, "cursor-next", resp.Cursor)

	// The element without a send id is skipped, not fatal.
	require.Len(t, resp.Notifications, 1)
	n := resp.Notifications[0]
	assert.Equal(t, "n1", n.Identifiers.Identifier)
	assert.Equal(t, "s1", n.Identifiers.SendID)
	assert.Equal(t, "install-1", n.Identifiers.InstallID)
	assert.Equal(t, "Hello", n.Title)
	assert.Equal(t, "World", n.Body)
	assert.Equal(t, model.SourceCampaign, n.Source)
	assert.True(t, n.Unread)
	assert.Equal(t, time.UnixMilli(1700000000000), n.Date)
}

func TestFetchDropsElementsWithoutInternalData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hasMore": false,
			"notifications": [
				{
					"notificationId": "n1",
					"sendId": "s1",
					"notificationTime": 1700000000000,
					"payload": {"title": "t", "msg": "b"}
				},
				{
					"notificationId": "n2",
					"sendId": "s2",
					"notificationTime": 1700000001000,
					"payload": {"title": "t", "msg": "b", "com.batch": {"t": "c", "i": "s2"}}
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewFetchClient(fetchConfig(t, server.URL))
	resp, err := client.Fetch(context.Background(), "", 20)
	require.NoError(t, err)

	// Elements without a com.batch block are dropped like any other
	// malformed element.
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "n2", resp.Notifications[0].Identifiers.Identifier)
}

func TestFetchOpenedImpliesRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"hasMore": false,
			"notifications": [{
				"notificationId": "n1",
				"sendId": "s1",
				"notificationTime": 1700000000000,
				"read": false,
				"opened": true,
				"payload": {"title": "t", "com.batch": {"t": "t", "i": "s1"}}
			}]
		}`))
	}))
	defer server.Close()

	client := NewFetchClient(fetchConfig(t, server.URL))
	resp, err := client.Fetch(context.Background(), "", 20)
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)
	assert.False(t, resp.Notifications[0].Unread)
}

func TestFetchSendsAuthHeaderInUserMode(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-CustomID-Auth")
		gotPath = r.URL.Path
		w.Write([]byte(`{"hasMore": false, "notifications": []}`))
	}))
	defer server.Close()

	cfg := fetchConfig(t, server.URL)
	cfg.Kind = model.FetcherKindUserIdentifier
	cfg.Identifier = "user-42"
	cfg.AuthKey = "hmac-key"

	_, err := NewFetchClient(cfg).Fetch(context.Background(), "", 20)
	require.NoError(t, err)
	assert.Equal(t, "hmac-key", gotAuth)
	assert.Equal(t, "/custom/user-42", gotPath)
}

func TestFetchCachesNotifications(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fetchResponse))
	}))
	defer server.Close()

	s := testutil.NewTestStore(t)
	ctx := context.Background()
	fetcherID, err := s.GetOrCreateFetcher(ctx, model.FetcherKindInstallation, "device-a")
	require.NoError(t, err)

	cfg := fetchConfig(t, server.URL)
	cfg.Store = s
	cfg.FetcherID = fetcherID

	_, err = NewFetchClient(cfg).Fetch(ctx, "", 20)
	require.NoError(t, err)

	cached, err := s.Notifications(ctx, []string{"n1"}, fetcherID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "Hello", cached[0].Title)
	assert.Equal(t, model.SourceCampaign, cached[0].Source)
}

func TestFetchErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantPublic string
	}{
		{"forbidden", http.StatusForbidden, "", msgForbidden},
		{"server error", http.StatusInternalServerError, "", msgTransport},
		{"invalid json", http.StatusOK, "garbage", msgBadJSON},
		{"missing hasMore", http.StatusOK, `{"notifications": []}`, msgBadShape},
		{"missing notifications", http.StatusOK, `{"hasMore": false}`, msgBadShape},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewFetchClient(fetchConfig(t, server.URL)).Fetch(context.Background(), "", 20)
			require.Error(t, err)
			assert.Equal(t, tc.wantPublic, err.Error())
		})
	}
}

func TestFetchOptedOut(t *testing.T) {
	cfg := fetchConfig(t, "http://127.0.0.1:1")
	cfg.Transport.SetOptedOut(true)

	_, err := NewFetchClient(cfg).Fetch(context.Background(), "", 20)
	require.Error(t, err)
	assert.Equal(t, msgOptedOut, err.Error())
}
