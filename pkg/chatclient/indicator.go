package chatclient

import (
	"sort"
	"sync"
	"time"
)

// TypingExpiry is how long a remote typing:true stays visible without a
// follow-up signal.
const TypingExpiry = 3 * time.Second

// TypingEvent mirrors the user.typing payload.
type TypingEvent struct {
	UserID   uint64 `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// Typer is a remote user currently shown as typing.
type Typer struct {
	UserID   uint64
	UserName string
}

type typerEntry struct {
	name  string
	timer Timer
	gen   uint64
}

// TypingIndicator keeps the receive-side typing state per remote user. A
// user drops out on typing:false or after TypingExpiry of silence.
type TypingIndicator struct {
	mu       sync.Mutex
	clock    Clock
	expiry   time.Duration
	users    map[uint64]*typerEntry
	gen      uint64
	onChange func([]Typer)
}

// NewTypingIndicator builds an indicator. onChange, when set, receives the
// current typers after every change.
func NewTypingIndicator(onChange func([]Typer), clock Clock) *TypingIndicator {
	if clock == nil {
		clock = systemClock{}
	}
	return &TypingIndicator{
		clock:    clock,
		expiry:   TypingExpiry,
		users:    make(map[uint64]*typerEntry),
		onChange: onChange,
	}
}

// Apply folds a received typing event into the state.
func (t *TypingIndicator) Apply(evt TypingEvent) {
	t.mu.Lock()
	entry, ok := t.users[evt.UserID]
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
	if !evt.IsTyping {
		if !ok {
			t.mu.Unlock()
			return
		}
		delete(t.users, evt.UserID)
		snapshot := t.snapshotLocked()
		t.mu.Unlock()
		t.notify(snapshot)
		return
	}

	t.gen++
	gen := t.gen
	userID := evt.UserID
	t.users[userID] = &typerEntry{
		name:  evt.UserName,
		gen:   gen,
		timer: t.clock.AfterFunc(t.expiry, func() { t.expire(userID, gen) }),
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	if !ok {
		t.notify(snapshot)
	}
}

// Active returns the users currently typing, ordered by id.
func (t *TypingIndicator) Active() []Typer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *TypingIndicator) expire(userID, gen uint64) {
	t.mu.Lock()
	entry, ok := t.users[userID]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snapshot)
}

func (t *TypingIndicator) snapshotLocked() []Typer {
	out := make([]Typer, 0, len(t.users))
	for id, entry := range t.users {
		out = append(out, Typer{UserID: id, UserName: entry.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *TypingIndicator) notify(snapshot []Typer) {
	if t.onChange != nil {
		t.onChange(snapshot)
	}
}
