package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

func TestParseChannel(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Channel
	}{
		{"chat", "order.12.chat", Channel{Kind: KindOrderChat, ID: 12}},
		{"private chat", "private-order.12.chat", Channel{Kind: KindOrderChat, ID: 12}},
		{"presence", "presence-order.7.presence", Channel{Kind: KindOrderPresence, ID: 7}},
		{"notifications", "private-user.3.notifications", Channel{Kind: KindUserNotifications, ID: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseChannel(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseChannelRejectsUnknownNames(t *testing.T) {
	for _, in := range []string{"", "order.x.chat", "order.0.chat", "order.1.files", "user.1.chat", "orders.1.chat", "order.1.chat.extra"} {
		_, err := ParseChannel(in)
		require.Error(t, err, in)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), in)
	}
}

func TestChannelStringRoundTrip(t *testing.T) {
	for _, name := range []string{OrderChatChannel(4), OrderPresenceChannel(4), UserNotificationsChannel(9)} {
		ch, err := ParseChannel(name)
		require.NoError(t, err)
		assert.Equal(t, name, ch.String())
	}
	assert.True(t, Channel{Kind: KindOrderPresence, ID: 1}.IsOrder())
	assert.False(t, Channel{Kind: KindUserNotifications, ID: 1}.IsOrder())
}

func TestNewEventEncodesData(t *testing.T) {
	evt, err := NewEvent("order.1.chat", EventUnreadUpdated, map[string]int{"count": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(evt.Data))
	assert.Equal(t, EventUnreadUpdated, evt.Event)
}
