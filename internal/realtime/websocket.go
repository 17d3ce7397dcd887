package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameBytes   = 4096
	frameRate       = 10
	frameBurst      = 20
	directQueueSize = 16
)

// Server-only events sent in response to client frames.
const (
	EventSubscribed   = "subscription.succeeded"
	EventSubscribeErr = "subscription.error"
	EventPong         = "pong"
	EventFrameError   = "error"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID uint64
	Name   string
}

type connMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

type WSHandlerParams struct {
	Hub        *Hub
	Authorizer *Authorizer
	Tracker    *Tracker
	// Verify turns a bearer token into an identity.
	Verify func(token string) (Identity, error)
	// WriteError renders handshake failures before the upgrade.
	WriteError func(ctx context.Context, w http.ResponseWriter, err error)
	Metrics    connMetrics
	Logger     *logger.Logger
	Origins    []string
}

// WSHandler serves GET /realtime/ws.
type WSHandler struct {
	p        WSHandlerParams
	upgrader websocket.Upgrader
}

func NewWSHandler(p WSHandlerParams) *WSHandler {
	h := &WSHandler{p: p}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(p.Origins),
	}
	return h
}

type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ident, err := h.identify(r)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	if h.p.Logger != nil {
		ctx = h.p.Logger.WithUserID(ctx, ident.UserID)
	}
	if h.p.Metrics != nil {
		h.p.Metrics.ConnectionOpened()
		defer h.p.Metrics.ConnectionClosed()
	}

	c := &wsConn{
		h:        h,
		conn:     conn,
		ident:    ident,
		sub:      h.p.Hub.Subscribe(),
		direct:   make(chan Event, directQueueSize),
		presence: make(map[string]struct{}),
		limiter:  rate.NewLimiter(rate.Limit(frameRate), frameBurst),
		done:     make(chan struct{}),
	}
	c.run(context.WithoutCancel(ctx))
}

func (h *WSHandler) identify(r *http.Request) (Identity, error) {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	ident, err := h.p.Verify(token)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	return ident, nil
}

func (h *WSHandler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if h.p.WriteError != nil {
		h.p.WriteError(ctx, w, err)
		return
	}
	http.Error(w, err.Error(), http.StatusUnauthorized)
}

type wsConn struct {
	h        *WSHandler
	conn     *websocket.Conn
	ident    Identity
	sub      *Subscription
	direct   chan Event
	presence map[string]struct{}
	limiter  *rate.Limiter
	done     chan struct{}
	once     sync.Once
}

func (c *wsConn) run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(ctx)

	c.stop()
	for ch := range c.presence {
		c.h.p.Tracker.Leave(ctx, ch, c.ident.UserID)
	}
	c.sub.Close()
	wg.Wait()
	_ = c.conn.Close()
}

func (c *wsConn) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.h.p.Logger != nil {
				c.h.p.Logger.Warn(c.h.p.Logger.WithField(ctx, "error", err.Error()), "websocket closed unexpectedly")
			}
			return
		}
		if !c.limiter.Allow() {
			c.send("", EventFrameError, map[string]string{"message": "too many frames"})
			continue
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.send("", EventFrameError, map[string]string{"message": "invalid frame"})
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *wsConn) handle(ctx context.Context, frame clientFrame) {
	switch frame.Type {
	case "ping":
		c.send("", EventPong, struct{}{})
	case "subscribe":
		c.subscribe(ctx, frame.Channel)
	case "unsubscribe":
		c.unsubscribe(ctx, frame.Channel)
	default:
		c.send("", EventFrameError, map[string]string{"message": "unknown frame type"})
	}
}

func (c *wsConn) subscribe(ctx context.Context, name string) {
	ch, err := c.h.p.Authorizer.Authorize(ctx, c.ident.UserID, name)
	if err != nil {
		c.send(name, EventSubscribeErr, map[string]string{"message": pkgerrors.MetadataFor(codeOf(err)).PublicMessage})
		return
	}
	channel := ch.String()
	if c.sub.Has(channel) {
		c.send(channel, EventSubscribed, struct{}{})
		return
	}
	if ch.Kind != KindOrderPresence || c.h.p.Tracker == nil {
		c.sub.Add(channel)
		c.send(channel, EventSubscribed, struct{}{})
		return
	}
	// Join before subscribing so the joiner does not hear its own arrival.
	members := c.h.p.Tracker.Join(ctx, channel, Member{ID: c.ident.UserID, Name: c.ident.Name})
	c.presence[channel] = struct{}{}
	c.send(channel, EventSubscribed, struct{}{})
	c.send(channel, EventPresenceHere, members)
	c.sub.Add(channel)
}

func (c *wsConn) unsubscribe(ctx context.Context, name string) {
	ch, err := ParseChannel(name)
	if err != nil {
		c.send(name, EventFrameError, map[string]string{"message": "unknown channel"})
		return
	}
	channel := ch.String()
	c.sub.Remove(channel)
	if _, ok := c.presence[channel]; ok {
		delete(c.presence, channel)
		c.h.p.Tracker.Leave(ctx, channel, c.ident.UserID)
	}
}

// send queues a frame for this connection only.
func (c *wsConn) send(channel, event string, data any) {
	evt, err := NewEvent(channel, event, data)
	if err != nil {
		return
	}
	select {
	case c.direct <- evt:
	case <-c.done:
	default:
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	events := c.sub.Events()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := c.write(evt); err != nil {
				c.abort()
				return
			}
		case evt := <-c.direct:
			if err := c.write(evt); err != nil {
				c.abort()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}
		}
	}
}

func (c *wsConn) write(evt Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(evt)
}

// abort unblocks the read loop after a write failure.
func (c *wsConn) abort() {
	_ = c.conn.SetReadDeadline(time.Now())
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return pkgerrors.CodeInternal
}

func originChecker(origins []string) func(*http.Request) bool {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}
