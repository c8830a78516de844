package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmarcon/inboxsync/internal/model"
)

func notification(id, sendID string, unread bool) *model.Notification {
	return &model.Notification{
		Title:   "t",
		Body:    "b",
		Unread:  unread,
		Date:    time.Now(),
		Payload: map[string]string{"title": "t"},
		Identifiers: model.NotificationIdentifiers{
			Identifier: id,
			SendID:     sendID,
		},
	}
}

func TestMergeAppendsNewSends(t *testing.T) {
	var held []*model.Notification

	added := model.MergeBySendID(&held, []*model.Notification{
		notification("n1", "send-1", true),
		notification("n2", "send-2", true),
	}, zap.NewNop())

	assert.Len(t, added, 2)
	assert.Len(t, held, 2)
}

func TestMergeAbsorbsDuplicateDelivery(t *testing.T) {
	held := []*model.Notification{notification("n1", "send-1", true)}

	dup := notification("n1-redelivered", "send-1", true)
	dup.Identifiers.CustomID = "user-42"

	added := model.MergeBySendID(&held, []*model.Notification{dup}, zap.NewNop())

	assert.Empty(t, added)
	require.Len(t, held, 1)
	require.Len(t, held[0].DuplicateIdentifiers, 1)
	assert.Equal(t, "n1-redelivered", held[0].DuplicateIdentifiers[0].Identifier)
	assert.Equal(t, "user-42", held[0].DuplicateIdentifiers[0].CustomID)

	all := held[0].AllIdentifiers()
	require.Len(t, all, 2)
	assert.Equal(t, "n1", all[0].Identifier)
}

func TestMergeReadStateIsMonotonic(t *testing.T) {
	held := []*model.Notification{notification("n1", "send-1", true)}

	// A read duplicate marks the held notification read.
	readDup := notification("n1-b", "send-1", false)
	model.MergeBySendID(&held, []*model.Notification{readDup}, zap.NewNop())
	assert.False(t, held[0].Unread)

	// An unread duplicate never flips it back.
	unreadDup := notification("n1-c", "send-1", true)
	model.MergeBySendID(&held, []*model.Notification{unreadDup}, zap.NewNop())
	assert.False(t, held[0].Unread)
}

func TestMergeSkipsExactResend(t *testing.T) {
	held := []*model.Notification{notification("n1", "send-1", true)}

	added := model.MergeBySendID(&held, []*model.Notification{notification("n1", "send-1", true)}, zap.NewNop())

	assert.Empty(t, added)
	require.Len(t, held, 1)
	assert.Empty(t, held[0].DuplicateIdentifiers)
}

func TestMergeIgnoresMissingSendID(t *testing.T) {
	var held []*model.Notification

	added := model.MergeBySendID(&held, []*model.Notification{notification("n1", "", true)}, zap.NewNop())

	assert.Empty(t, added)
	assert.Empty(t, held)
}
