package realtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

const defaultSubscriberBuffer = 64

type hubMetrics interface {
	IncBroadcast(kind string)
	IncDropped()
}

// Hub delivers events to subscribers in this process.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	metrics hubMetrics
	logg    *logger.Logger
}

type HubOptions struct {
	Buffer  int
	Metrics hubMetrics
	Logger  *logger.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  opts.Buffer,
		metrics: opts.Metrics,
		logg:    opts.Logger,
	}
}

// Subscription receives events for the channels it has joined. Events that
// arrive while its buffer is full are dropped.
type Subscription struct {
	hub      *Hub
	events   chan Event
	channels map[string]struct{}
	closed   bool
	dropped  atomic.Bool
}

func (h *Hub) Subscribe(channels ...string) *Subscription {
	sub := &Subscription{
		hub:      h,
		events:   make(chan Event, h.buffer),
		channels: make(map[string]struct{}),
	}
	for _, ch := range channels {
		sub.Add(ch)
	}
	return sub
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Add(channel string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	s.channels[channel] = struct{}{}
}

func (s *Subscription) Remove(channel string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(s, channel)
}

func (s *Subscription) Has(channel string) bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// Dropped reports whether an event was lost since the last ResetDropped.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// ResetDropped clears the dropped flag and returns its previous value.
func (s *Subscription) ResetDropped() bool {
	return s.dropped.Swap(false)
}

// Close detaches from every channel and closes Events.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.channels {
		h.detach(s, ch)
	}
	s.closed = true
	close(s.events)
}

func (h *Hub) detach(s *Subscription, channel string) {
	delete(s.channels, channel)
	if set, ok := h.subs[channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, channel)
		}
	}
}

// Deliver hands evt to local subscribers and returns how many accepted it.
func (h *Hub) Deliver(evt Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.subs[evt.Channel] {
		select {
		case sub.events <- evt:
			delivered++
		default:
			sub.dropped.Store(true)
			if h.metrics != nil {
				h.metrics.IncDropped()
			}
			if h.logg != nil {
				ctx := h.logg.WithFields(context.Background(), map[string]any{"channel": evt.Channel, "event": evt.Event})
				h.logg.Warn(ctx, "realtime subscriber too slow, event dropped")
			}
		}
	}
	return delivered
}

// Broadcast delivers locally. Use Bus to reach other processes.
func (h *Hub) Broadcast(_ context.Context, channel, event string, data any) error {
	evt, err := NewEvent(channel, event, data)
	if err != nil {
		return err
	}
	h.observe(channel)
	h.Deliver(evt)
	return nil
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

func (h *Hub) observe(channel string) {
	if h.metrics == nil {
		return
	}
	kind := channel
	if i := strings.LastIndex(channel, "."); i >= 0 {
		kind = channel[i+1:]
	}
	h.metrics.IncBroadcast(kind)
}
