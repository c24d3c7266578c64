package store

import "sync"

// ChangeOp identifies the kind of mutation behind a change event.
type ChangeOp string

// Change operations.
const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent notifies a watcher of a single record mutation.
type ChangeEvent[T Record] struct {
	Op     ChangeOp
	Record T
}

// hub fans change events out to subscribers. Delivery is non-blocking: a
// subscriber that falls behind loses events rather than stalling writers.
type hub[T Record] struct {
	mu   sync.Mutex
	next int
	subs map[int]chan ChangeEvent[T]
}

func newHub[T Record]() *hub[T] {
	return &hub[T]{subs: make(map[int]chan ChangeEvent[T])}
}

func (h *hub[T]) subscribe(buffer int) (<-chan ChangeEvent[T], func()) {
	if buffer <= 0 {
		buffer = 16
	}

	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan ChangeEvent[T], buffer)
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *hub[T]) publish(ev ChangeEvent[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
