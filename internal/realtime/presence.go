package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

const DefaultPresenceGrace = 2 * time.Second

type sessionState int

const (
	stateJoining sessionState = iota
	stateActive
	stateLeaving
	stateLeft
)

type sessionKey struct {
	channel string
	userID  uint64
}

type session struct {
	member Member
	conns  int
	state  sessionState
	timer  stopper
}

type stopper interface {
	Stop() bool
}

// Tracker follows who is present on each presence channel. A user with
// several connections counts once, and a user who drops and comes back
// within the grace window never appears to leave.
type Tracker struct {
	mu        sync.Mutex
	sessions  map[sessionKey]*session
	grace     time.Duration
	store     PresenceStore
	broadcast Broadcaster
	logg      *logger.Logger
	afterFunc func(d time.Duration, f func()) stopper
}

type TrackerOptions struct {
	Grace       time.Duration
	Store       PresenceStore
	Broadcaster Broadcaster
	Logger      *logger.Logger
}

func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Grace <= 0 {
		opts.Grace = DefaultPresenceGrace
	}
	if opts.Store == nil {
		opts.Store = NewMemoryPresenceStore()
	}
	return &Tracker{
		sessions:  make(map[sessionKey]*session),
		grace:     opts.Grace,
		store:     opts.Store,
		broadcast: opts.Broadcaster,
		logg:      opts.Logger,
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
	}
}

// Join registers one connection for m on channel and returns the members
// present, the joiner included. presence.joining is broadcast only when the
// user was not already present.
func (t *Tracker) Join(ctx context.Context, channel string, m Member) []Member {
	key := sessionKey{channel: channel, userID: m.ID}

	t.mu.Lock()
	s, ok := t.sessions[key]
	announce := false
	switch {
	case !ok || s.state == stateLeft:
		s = &session{member: m, state: stateJoining}
		t.sessions[key] = s
		announce = true
	case s.state == stateLeaving:
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.state = stateActive
	}
	s.conns++
	s.member = m
	members := t.membersLocked(channel)
	t.mu.Unlock()

	if announce {
		if err := t.store.Add(ctx, channel, m); err != nil {
			t.logError(ctx, channel, "presence store add failed", err)
		}
		t.emit(ctx, channel, EventPresenceJoining, m)
		t.mu.Lock()
		if s.state == stateJoining {
			s.state = stateActive
		}
		t.mu.Unlock()
	}
	return members
}

// Leave drops one connection. When the last one goes the user enters the
// grace window; presence.leaving fires only if they do not rejoin in time.
func (t *Tracker) Leave(ctx context.Context, channel string, userID uint64) {
	key := sessionKey{channel: channel, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[key]
	if !ok || s.state == stateLeaving || s.state == stateLeft {
		return
	}
	s.conns--
	if s.conns > 0 {
		return
	}
	s.state = stateLeaving
	s.timer = t.afterFunc(t.grace, func() {
		t.expire(context.WithoutCancel(ctx), key, s)
	})
}

func (t *Tracker) expire(ctx context.Context, key sessionKey, s *session) {
	t.mu.Lock()
	current, ok := t.sessions[key]
	if !ok || current != s || s.state != stateLeaving {
		t.mu.Unlock()
		return
	}
	s.state = stateLeft
	s.timer = nil
	delete(t.sessions, key)
	t.mu.Unlock()

	if err := t.store.Remove(ctx, key.channel, key.userID); err != nil {
		t.logError(ctx, key.channel, "presence store remove failed", err)
	}
	t.emit(ctx, key.channel, EventPresenceLeaving, s.member)
}

// Members lists users currently present on channel, including those inside
// their grace window.
func (t *Tracker) Members(channel string) []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.membersLocked(channel)
}

func (t *Tracker) membersLocked(channel string) []Member {
	out := []Member{}
	for key, s := range t.sessions {
		if key.channel == channel && s.state != stateLeft {
			out = append(out, s.member)
		}
	}
	sortMembers(out)
	return out
}

func (t *Tracker) emit(ctx context.Context, channel, event string, m Member) {
	if t.broadcast == nil {
		return
	}
	if err := t.broadcast.Broadcast(ctx, channel, event, m); err != nil {
		t.logError(ctx, channel, "presence broadcast failed", err)
	}
}

func (t *Tracker) logError(ctx context.Context, channel, msg string, err error) {
	if t.logg == nil {
		return
	}
	t.logg.Error(t.logg.WithField(ctx, "channel", channel), msg, err)
}
