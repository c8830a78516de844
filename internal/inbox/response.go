package inbox

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
)

// Payload keys carrying the displayable text of a push.
const (
	payloadTitleKey = "title"
	payloadBodyKey  = "msg"
)

// Response is a parsed inbox webservice response, shared by the fetch and
// sync clients.
type Response struct {
	HasMore    bool
	DidTimeout bool

	// Cursor marks the boundary for the next older page; empty when the
	// server did not provide one.
	Cursor string

	Notifications []*model.Notification
}

// wireResponse is the raw top-level shape of both protocol responses.
// Notification entries stay raw so one bad element cannot fail the page.
type wireResponse struct {
	HasMore       *bool              `json:"hasMore"`
	Timeout       bool               `json:"timeout"`
	Cursor        string             `json:"cursor"`
	Notifications *[]json.RawMessage `json:"notifications"`
	Cache         *wireCache         `json:"cache"`
}

// wireCache is the sync response's server-driven bulk operation block.
type wireCache struct {
	LastMarkAllAsRead int64    `json:"lastMarkAllAsRead"`
	Delete            []string `json:"delete"`
}

// wireNotification is one raw notification element. Pointer fields
// distinguish absent keys from zero values, which matters for partial
// sync updates.
type wireNotification struct {
	NotificationID   *string                    `json:"notificationId"`
	SendID           *string                    `json:"sendId"`
	Title            *string                    `json:"title"`
	Body             *string                    `json:"msg"`
	NotificationTime *int64                     `json:"notificationTime"`
	InstallID        *string                    `json:"installId"`
	CustomID         *string                    `json:"customId"`
	Read             *bool                      `json:"read"`
	Opened           *bool                      `json:"opened"`
	Payload          map[string]json.RawMessage `json:"payload"`
}

// decodeResponse parses the shared top-level fields, returning the raw
// notification list for client-specific handling.
func decodeResponse(raw json.RawMessage) (*wireResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	if wire.HasMore == nil {
		return nil, errMissingKey("hasMore")
	}
	if wire.Notifications == nil {
		return nil, errMissingKey("notifications")
	}
	return &wire, nil
}

// parseNotification builds a full notification model from one raw
// response element. Strict and fail-fast: any missing required field or
// integrity violation rejects this element only.
func parseNotification(raw json.RawMessage) (*model.Notification, error) {
	var wire wireNotification
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	switch {
	case wire.NotificationID == nil || *wire.NotificationID == "":
		return nil, errMissingKey("notificationId")
	case wire.SendID == nil || *wire.SendID == "":
		return nil, errMissingKey("sendId")
	case wire.NotificationTime == nil:
		return nil, errMissingKey("notificationTime")
	case wire.Payload == nil:
		return nil, errMissingKey("payload")
	}

	payload := coercePayload(wire.Payload)

	data, err := model.ParseInternalPushData(payload)
	if err != nil {
		return nil, err
	}

	n := &model.Notification{
		Title:   payload[payloadTitleKey],
		Body:    payload[payloadBodyKey],
		Source:  data.Source(),
		Unread:  !boolValue(wire.Read) && !boolValue(wire.Opened),
		Date:    time.UnixMilli(*wire.NotificationTime),
		Payload: payload,
		Identifiers: model.NotificationIdentifiers{
			Identifier:     *wire.NotificationID,
			SendID:         *wire.SendID,
			InstallID:      stringValue(wire.InstallID),
			CustomID:       stringValue(wire.CustomID),
			AdditionalData: data.ExtraParameters(),
		},
	}

	if !n.Valid() {
		return nil, errors.New("parsed notification does not pass integrity checks; payload may be empty or identifiers missing")
	}

	return n, nil
}

// parseNotificationList walks the raw array, skipping elements that fail
// to parse instead of failing the whole response.
func parseNotificationList(raw []json.RawMessage, log *zap.Logger) []*model.Notification {
	notifications := make([]*model.Notification, 0, len(raw))
	for _, item := range raw {
		n, err := parseNotification(item)
		if err != nil {
			log.Warn("failed to parse notification content, skipping", zap.Error(err))
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications
}

// coercePayload flattens a raw JSON payload object to string values:
// JSON strings are unquoted, every other value keeps its serialized form.
func coercePayload(raw map[string]json.RawMessage) map[string]string {
	payload := make(map[string]string, len(raw))
	for key, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			payload[key] = s
			continue
		}
		payload[key] = string(value)
	}
	return payload
}

func boolValue(p *bool) bool {
	return p != nil && *p
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
