// Package notify provides change notification for configuration updates.
//
// Components subscribe to one or more setting paths and are called back once
// for every effective change that affects them.
package notify

import (
	"sort"
	"sync"
)

// ChangeType represents the type of configuration change.
type ChangeType int

const (
	// ChangeSet indicates a value was set or updated.
	ChangeSet ChangeType = iota

	// ChangeDelete indicates a value was deleted.
	ChangeDelete
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change represents a configuration change event.
type Change struct {
	// Path is the dot-separated path to the changed setting.
	Path string

	// Type is the type of change.
	Type ChangeType

	// OldValue is the previous value (may be nil).
	OldValue any

	// NewValue is the new value (may be nil for deletes).
	NewValue any

	// Source identifies where the change came from ("arguments", a file path, ...).
	Source string
}

// Observer is called when configuration changes occur.
type Observer func(change Change)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

type entry struct {
	id       uint64
	paths    []string
	observer Observer
}

// matches reports whether the entry wants change. An entry without paths
// wants every change.
func (e entry) matches(change Change) bool {
	if len(e.paths) == 0 {
		return true
	}
	for _, p := range e.paths {
		if Affects(change.Path, p) {
			return true
		}
	}
	return false
}

// Notifier manages configuration change subscriptions.
// Observers are called synchronously, in subscription order, outside the lock.
type Notifier struct {
	mu      sync.RWMutex
	entries map[uint64]entry
	nextID  uint64
	closed  bool
}

// New creates a new Notifier.
func New() *Notifier {
	return &Notifier{
		entries: make(map[uint64]entry),
	}
}

// Subscribe registers an observer for changes affecting any of paths, or for
// all changes when no path is given. The observer is called at most once per
// change, however many of its paths the change affects.
func (n *Notifier) Subscribe(observer Observer, paths ...string) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.entries[id] = entry{id: id, paths: append([]string(nil), paths...), observer: observer}

	return &Subscription{
		id:       id,
		notifier: n,
	}
}

// Notify sends a change notification to all relevant observers.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return
	}

	var matched []entry
	for _, e := range n.entries {
		if e.matches(change) {
			matched = append(matched, e)
		}
	}
	n.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	for _, e := range matched {
		e.observer(change)
	}
}

// Count returns the number of active subscriptions.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.entries)
}

// Close shuts down the notifier; later notifications are dropped.
// It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, id)
}

// Affects reports whether a change at changed touches the setting at path:
// the same setting, one below it, or a parent that was replaced as a whole.
func Affects(changed, path string) bool {
	return changed == path || isParentPath(path, changed) || isParentPath(changed, path)
}

// isParentPath checks if parent is a parent path of child.
// e.g., "ninja" is parent of "ninja.command".
func isParentPath(parent, child string) bool {
	if parent == "" || len(parent) >= len(child) {
		return false
	}
	return child[:len(parent)] == parent && child[len(parent)] == '.'
}
