package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

type recordedEvent struct {
	channel string
	event   string
	member  Member
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, channel, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, _ := data.(Member)
	r.events = append(r.events, recordedEvent{channel: channel, event: event, member: m})
	return nil
}

func (r *recordingBroadcaster) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func newTestTracker(t *testing.T) (*Tracker, *recordingBroadcaster, *MemoryPresenceStore, *[]*fakeTimer) {
	t.Helper()
	rec := &recordingBroadcaster{}
	store := NewMemoryPresenceStore()
	tracker := NewTracker(TrackerOptions{Grace: time.Second, Store: store, Broadcaster: rec})
	timers := &[]*fakeTimer{}
	tracker.afterFunc = func(_ time.Duration, f func()) stopper {
		ft := &fakeTimer{fn: f}
		*timers = append(*timers, ft)
		return ft
	}
	return tracker, rec, store, timers
}

func TestTrackerJoinReturnsMembersAndAnnounces(t *testing.T) {
	tracker, rec, store, _ := newTestTracker(t)
	ctx := context.Background()
	ch := OrderPresenceChannel(1)

	here := tracker.Join(ctx, ch, Member{ID: 2, Name: "Ben Reyes"})
	assert.Equal(t, []Member{{ID: 2, Name: "Ben Reyes"}}, here)

	here = tracker.Join(ctx, ch, Member{ID: 1, Name: "Ana Cruz"})
	assert.Equal(t, []Member{{ID: 1, Name: "Ana Cruz"}, {ID: 2, Name: "Ben Reyes"}}, here)

	assert.Equal(t, []string{EventPresenceJoining, EventPresenceJoining}, rec.names())
	stored, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestTrackerMultipleConnectionsCountOnce(t *testing.T) {
	tracker, rec, _, timers := newTestTracker(t)
	ctx := context.Background()
	ch := OrderPresenceChannel(1)

	tracker.Join(ctx, ch, Member{ID: 1, Name: "Ana Cruz"})
	tracker.Join(ctx, ch, Member{ID: 1, Name: "Ana Cruz"})
	assert.Len(t, tracker.Members(ch), 1)

	tracker.Leave(ctx, ch, 1)
	assert.Empty(t, *timers, "one connection is still open")
	assert.Equal(t, []string{EventPresenceJoining}, rec.names())
}

func TestTrackerLeaveAfterGrace(t *testing.T) {
	tracker, rec, store, timers := newTestTracker(t)
	ctx := context.Background()
	ch := OrderPresenceChannel(1)

	tracker.Join(ctx, ch, Member{ID: 1, Name: "Ana Cruz"})
	tracker.Leave(ctx, ch, 1)
	require.Len(t, *timers, 1)
	assert.Len(t, tracker.Members(ch), 1, "still present during grace")

	(*timers)[0].fn()

	assert.Empty(t, tracker.Members(ch))
	assert.Equal(t, []string{EventPresenceJoining, EventPresenceLeaving}, rec.names())
	stored, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestTrackerRejoinWithinGraceCancelsLeave(t *testing.T) {
	tracker, rec, _, timers := newTestTracker(t)
	ctx := context.Background()
	ch := OrderPresenceChannel(1)

	tracker.Join(ctx, ch, Member{ID: 1, Name: "Ana Cruz"})
	tracker.Leave(ctx, ch, 1)
	require.Len(t, *timers, 1)

	here := tracker.Join(ctx, ch, Member{ID: 1, Name: "Ana Cruz"})
	assert.Len(t, here, 1)
	assert.True(t, (*timers)[0].stopped)

	// A timer that already fired before Stop must not evict the rejoined user.
	(*timers)[0].fn()

	assert.Len(t, tracker.Members(ch), 1)
	assert.Equal(t, []string{EventPresenceJoining}, rec.names())
}

func TestTrackerLeaveUnknownIsNoop(t *testing.T) {
	tracker, rec, _, timers := newTestTracker(t)
	tracker.Leave(context.Background(), OrderPresenceChannel(1), 42)
	assert.Empty(t, *timers)
	assert.Empty(t, rec.names())
}

func TestTrackerRealTimerExpires(t *testing.T) {
	rec := &recordingBroadcaster{}
	tracker := NewTracker(TrackerOptions{Grace: 10 * time.Millisecond, Broadcaster: rec})
	ch := OrderPresenceChannel(3)

	tracker.Join(context.Background(), ch, Member{ID: 5, Name: "Ben Reyes"})
	tracker.Leave(context.Background(), ch, 5)

	assert.Eventually(t, func() bool {
		return len(tracker.Members(ch)) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(rec.names()) == 2
	}, time.Second, 5*time.Millisecond)
}
