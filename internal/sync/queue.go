package sync

import (
	stdsync "sync"
)

// OutcomeOp tells the queue what to do with an executed item.
type OutcomeOp int

// Outcome operations.
const (
	// OpKeep leaves the item queued untouched (deferred, e.g. while the
	// client class is paused).
	OpKeep OutcomeOp = iota
	// OpUpdate replaces the item with Updated (advanced cursor or bumped
	// retry counter).
	OpUpdate
	// OpRemove drops the item (terminal success or fatal failure).
	OpRemove
)

// Outcome describes the result of executing one queued item.
type Outcome struct {
	Item    Item
	Op      OutcomeOp
	Updated Item // required when Op == OpUpdate
	Err     error
}

// Queue is an ordered collection of sync items with idempotent insertion and
// a reference-counted module membership index. A module is fully drained
// once no remaining item references it; drained modules are announced to
// watchers so callers can tell when everything they asked for has finished.
type Queue struct {
	mu      stdsync.Mutex
	items   []Item
	modules map[string]int

	watchMu  stdsync.Mutex
	nextSub  int
	watchers map[int]chan string
}

// NewQueue creates an empty work queue.
func NewQueue() *Queue {
	return &Queue{
		modules:  make(map[string]int),
		watchers: make(map[int]chan string),
	}
}

// Add inserts the item iff no equal item is queued. Returns true if the
// item was inserted.
func (q *Queue) Add(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.items {
		if Equal(existing, item) {
			return false
		}
	}

	q.items = append(q.items, item)
	if m := item.Meta().Module; m != "" {
		q.modules[m]++
	}
	return true
}

// AddMany inserts each item, skipping duplicates. Returns the number
// inserted.
func (q *Queue) AddMany(items []Item) int {
	added := 0
	for _, it := range items {
		if q.Add(it) {
			added++
		}
	}
	return added
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the queue in order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Take returns up to max ordinary-class items plus every client-class item,
// preserving queue order. Items remain queued; the caller reports what
// happened to them through ApplyOutcomes.
func (q *Queue) Take(max int) (ordinary, client []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if ClassOf(it) == ClassClient {
			client = append(client, it)
			continue
		}
		if len(ordinary) < max {
			ordinary = append(ordinary, it)
		}
	}
	return ordinary, client
}

// HasModule reports whether any queued item references the module.
func (q *Queue) HasModule(module string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.modules[module] > 0
}

// Modules returns the set of modules with pending items.
func (q *Queue) Modules() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, len(q.modules))
	for m := range q.modules {
		out = append(out, m)
	}
	return out
}

// ApplyOutcomes performs all operations against one consistent snapshot and
// announces any module that drained as a result.
func (q *Queue) ApplyOutcomes(outcomes []Outcome) {
	q.mu.Lock()

	for _, out := range outcomes {
		switch out.Op {
		case OpKeep:
			// nothing to do
		case OpUpdate:
			for idx, existing := range q.items {
				if Equal(existing, out.Item) {
					q.items[idx] = out.Updated
					break
				}
			}
		case OpRemove:
			for idx, existing := range q.items {
				if Equal(existing, out.Item) {
					q.items = append(q.items[:idx], q.items[idx+1:]...)
					if m := existing.Meta().Module; m != "" {
						q.modules[m]--
					}
					break
				}
			}
		}
	}

	var drained []string
	for m, count := range q.modules {
		if count <= 0 {
			delete(q.modules, m)
			drained = append(drained, m)
		}
	}
	q.mu.Unlock()

	for _, m := range drained {
		q.announce(m)
	}
}

// WatchDrained subscribes to module-drained announcements. The returned
// cancel function releases the subscription.
func (q *Queue) WatchDrained(buffer int) (<-chan string, func()) {
	if buffer <= 0 {
		buffer = 8
	}

	q.watchMu.Lock()
	id := q.nextSub
	q.nextSub++
	ch := make(chan string, buffer)
	q.watchers[id] = ch
	q.watchMu.Unlock()

	cancel := func() {
		q.watchMu.Lock()
		if sub, ok := q.watchers[id]; ok {
			delete(q.watchers, id)
			close(sub)
		}
		q.watchMu.Unlock()
	}
	return ch, cancel
}

func (q *Queue) announce(module string) {
	q.watchMu.Lock()
	defer q.watchMu.Unlock()

	for _, ch := range q.watchers {
		select {
		case ch <- module:
		default:
		}
	}
}
