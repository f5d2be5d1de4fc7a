package store

import (
	"sync"
)

// Scheduler runs a notification flush on a later turn than the call that
// scheduled it.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(fn func())

// Schedule calls f(fn).
func (f SchedulerFunc) Schedule(fn func()) { f(fn) }

// GoScheduler runs each flush on its own goroutine.
var GoScheduler Scheduler = SchedulerFunc(func(fn func()) { go fn() })

// ManualScheduler queues flushes until Flush is called. It suits tests and
// hosts that drive their own event loop.
type ManualScheduler struct {
	mu    sync.Mutex
	queue []func()
}

// NewManualScheduler creates an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Schedule queues fn.
func (m *ManualScheduler) Schedule(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Pending returns the number of queued flushes.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Flush runs queued functions until the queue is empty, including any queued
// while flushing. It returns how many ran.
func (m *ManualScheduler) Flush() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// subscription is one registered listener.
type subscription struct {
	id       uint64
	listener Listener
}

// notifier batches field notifications into one flush per turn.
// All fields are guarded by the owning store's mutex, except that flush
// takes the lock itself.
type notifier struct {
	pending   map[string]struct{}
	scheduled bool
	listeners map[string][]subscription
	nextID    uint64
}

func newNotifier() *notifier {
	return &notifier{
		pending:   make(map[string]struct{}),
		listeners: make(map[string][]subscription),
	}
}

// markLocked records names and their direct dependents as pending and
// reports whether a flush needs to be scheduled.
func (n *notifier) markLocked(reg *Registry, names ...string) bool {
	for _, name := range names {
		n.pending[name] = struct{}{}
		for _, child := range reg.children(name) {
			n.pending[child] = struct{}{}
		}
	}
	if n.scheduled || len(n.pending) == 0 {
		return false
	}
	n.scheduled = true
	return true
}

// takeLocked copies and clears the pending set, returning the listeners to
// call for each pending field in registry order.
func (n *notifier) takeLocked(reg *Registry) []delivery {
	n.scheduled = false
	if len(n.pending) == 0 {
		return nil
	}
	pending := n.pending
	n.pending = make(map[string]struct{})

	var out []delivery
	for _, name := range reg.Names() {
		if _, ok := pending[name]; !ok {
			continue
		}
		for _, sub := range n.listeners[name] {
			out = append(out, delivery{field: name, listener: sub.listener})
		}
	}
	return out
}

func (n *notifier) addLocked(name string, l Listener) uint64 {
	n.nextID++
	n.listeners[name] = append(n.listeners[name], subscription{id: n.nextID, listener: l})
	return n.nextID
}

func (n *notifier) removeLocked(name string, id uint64) {
	subs := n.listeners[name]
	for i, s := range subs {
		if s.id == id {
			n.listeners[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(n.listeners[name]) == 0 {
		delete(n.listeners, name)
	}
}

func (n *notifier) resetLocked() {
	n.pending = make(map[string]struct{})
	n.listeners = make(map[string][]subscription)
}

type delivery struct {
	field    string
	listener Listener
}
