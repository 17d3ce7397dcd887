package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T) (*httptest.Server, *Hub, *Tracker) {
	t.Helper()
	hub := NewHub(HubOptions{})
	tracker := NewTracker(TrackerOptions{Broadcaster: hub, Grace: time.Hour})
	handler := NewWSHandler(WSHandlerParams{
		Hub:        hub,
		Authorizer: NewAuthorizer(stubMembership{customerID: 1, workerID: 2}),
		Tracker:    tracker,
		Verify: func(token string) (Identity, error) {
			switch token {
			case "ana":
				return Identity{UserID: 1, Name: "Ana Cruz"}, nil
			case "ben":
				return Identity{UserID: 2, Name: "Ben Reyes"}, nil
			}
			return Identity{}, errors.New("bad token")
		},
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, hub, tracker
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestWSRejectsMissingToken(t *testing.T) {
	srv, _, _ := newWSServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSSubscribeReceivesBroadcasts(t *testing.T) {
	srv, hub, _ := newWSServer(t)
	conn := dial(t, srv, "ana")

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "subscribe", Channel: "private-order.5.chat"}))
	ack := readEvent(t, conn)
	assert.Equal(t, EventSubscribed, ack.Event)
	assert.Equal(t, "order.5.chat", ack.Channel)

	require.NoError(t, hub.Broadcast(context.Background(), "order.5.chat", EventMessageSent, map[string]int{"id": 1}))
	evt := readEvent(t, conn)
	assert.Equal(t, EventMessageSent, evt.Event)
	assert.JSONEq(t, `{"id":1}`, string(evt.Data))
}

func TestWSRejectsForeignChannel(t *testing.T) {
	srv, hub, _ := newWSServer(t)
	conn := dial(t, srv, "ana")

	require.NoError(t, conn.WriteJSON(clientFrame{Type: "subscribe", Channel: "user.2.notifications"}))
	evt := readEvent(t, conn)
	assert.Equal(t, EventSubscribeErr, evt.Event)
	assert.Equal(t, 0, hub.Subscribers("user.2.notifications"))
}

func TestWSPresenceHereAndPing(t *testing.T) {
	srv, _, tracker := newWSServer(t)
	ben := dial(t, srv, "ben")
	require.NoError(t, ben.WriteJSON(clientFrame{Type: "subscribe", Channel: "presence-order.5.presence"}))
	assert.Equal(t, EventSubscribed, readEvent(t, ben).Event)
	here := readEvent(t, ben)
	assert.Equal(t, EventPresenceHere, here.Event)
	assert.JSONEq(t, `[{"id":2,"name":"Ben Reyes"}]`, string(here.Data))

	ana := dial(t, srv, "ana")
	require.NoError(t, ana.WriteJSON(clientFrame{Type: "subscribe", Channel: "order.5.presence"}))
	assert.Equal(t, EventSubscribed, readEvent(t, ana).Event)
	here = readEvent(t, ana)
	assert.JSONEq(t, `[{"id":1,"name":"Ana Cruz"},{"id":2,"name":"Ben Reyes"}]`, string(here.Data))

	joining := readEvent(t, ben)
	assert.Equal(t, EventPresenceJoining, joining.Event)
	assert.JSONEq(t, `{"id":1,"name":"Ana Cruz"}`, string(joining.Data))
	assert.Len(t, tracker.Members("order.5.presence"), 2)

	require.NoError(t, ana.WriteJSON(clientFrame{Type: "ping"}))
	assert.Equal(t, EventPong, readEvent(t, ana).Event)
}
