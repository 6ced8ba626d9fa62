package telemetry

import (
	"sync"
	"time"
)

const defaultHistoryLimit = 500

// Hub keeps a bounded history of events and fans them out to subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Event
	historyLimit int
	subscribers  map[chan Event]struct{}
	now          func() time.Time
}

// NewHub builds a hub that remembers up to historyLimit events.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Event]struct{}),
		now:          time.Now,
	}
}

// Report stamps and records an event. Slow subscribers miss events rather
// than block the sequence.
func (h *Hub) Report(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}
	h.mu.Lock()
	h.history = append(h.history, e)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the stored events.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe registers a listener for live events.
func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Summary is the outcome of one test as seen by the hub.
type Summary struct {
	Test     string
	Steps    int
	Done     bool
	Duration time.Duration
}

// Summaries groups the history per test in order of first appearance.
func (h *Hub) Summaries() []Summary {
	var out []Summary
	index := map[string]int{}
	start := map[string]time.Time{}
	for _, e := range h.History() {
		i, ok := index[e.Test]
		if !ok {
			i = len(out)
			index[e.Test] = i
			out = append(out, Summary{Test: e.Test})
			start[e.Test] = e.Timestamp
		}
		if e.Step > out[i].Steps {
			out[i].Steps = e.Step
		}
		out[i].Done = out[i].Done || e.Done
		out[i].Duration = e.Timestamp.Sub(start[e.Test])
	}
	return out
}
