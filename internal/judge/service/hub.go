package service

import (
	"sync"

	"codelab/internal/judge/repository"
)

// ResultHub delivers finished run records to waiting subscribers. Each
// subscription receives at most one record and is then closed.
type ResultHub struct {
	mu   sync.Mutex
	subs map[string]map[chan repository.RunRecord]struct{}
}

// NewResultHub creates an empty hub.
func NewResultHub() *ResultHub {
	return &ResultHub{subs: make(map[string]map[chan repository.RunRecord]struct{})}
}

// Subscribe registers interest in runID. The returned cancel func is idempotent.
func (h *ResultHub) Subscribe(runID string) (<-chan repository.RunRecord, func()) {
	ch := make(chan repository.RunRecord, 1)
	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan repository.RunRecord]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[runID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(h.subs, runID)
				}
			}
		}
	}
}

// Publish hands record to every subscriber of its run and closes them.
func (h *ResultHub) Publish(record repository.RunRecord) {
	h.mu.Lock()
	set := h.subs[record.RunID]
	delete(h.subs, record.RunID)
	h.mu.Unlock()

	for ch := range set {
		ch <- record
		close(ch)
	}
}

// Subscribers returns the number of open subscriptions for runID.
func (h *ResultHub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}
