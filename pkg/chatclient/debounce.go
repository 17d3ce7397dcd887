package chatclient

import (
	"sync"
	"time"
)

const (
	// TypingThrottle is the minimum gap between two typing:true signals.
	TypingThrottle = 2 * time.Second
	// TypingIdle is how long after the last keystroke typing:false is sent.
	TypingIdle = 2 * time.Second
)

// TypingDebouncer turns a stream of keystrokes into sparse typing signals:
// true at most once per throttle window while input continues, and false
// once input has been idle.
type TypingDebouncer struct {
	mu       sync.Mutex
	send     func(isTyping bool)
	clock    Clock
	throttle time.Duration
	idle     time.Duration
	typing   bool
	lastSent time.Time
	timer    Timer
	gen      uint64
}

// DebouncerOption configures a TypingDebouncer.
type DebouncerOption func(*TypingDebouncer)

// WithClock injects the time source.
func WithClock(clock Clock) DebouncerOption {
	return func(d *TypingDebouncer) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewTypingDebouncer calls send with each signal that should go out. send
// runs on the caller's goroutine for true and on a timer goroutine for false.
func NewTypingDebouncer(send func(isTyping bool), opts ...DebouncerOption) *TypingDebouncer {
	d := &TypingDebouncer{
		send:     send,
		clock:    systemClock{},
		throttle: TypingThrottle,
		idle:     TypingIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Keystroke records input activity.
func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	now := d.clock.Now()
	emit := !d.typing || now.Sub(d.lastSent) >= d.throttle
	if emit {
		d.typing = true
		d.lastSent = now
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.idle, func() { d.expire(gen) })
	d.mu.Unlock()

	if emit {
		d.send(true)
	}
}

// Stop sends typing:false right away if a true is outstanding, e.g. when the
// message is submitted or the input loses focus.
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	wasTyping := d.typing
	d.typing = false
	d.mu.Unlock()

	if wasTyping {
		d.send(false)
	}
}

func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	d.send(false)
}
