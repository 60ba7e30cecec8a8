// Package status holds the single current-status projection consumed by
// user-facing indicators. Multiple independent sources (connectivity
// changes, queue drain progress, pull completion) write to the same surface;
// a priority rule stops a fast low-priority "success" from visually erasing
// an unresolved error before the operator reads it.
package status

import (
	"sync"
	"time"
)

// Type classifies a notification.
type Type string

const (
	TypeNone    Type = "none"
	TypeSyncing Type = "syncing"
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeOffline Type = "offline"
)

// Priority ranks notifications: error > syncing/offline > success.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// DefaultPriority returns the standard priority for a notification type.
func DefaultPriority(t Type) Priority {
	switch t {
	case TypeError:
		return PriorityHigh
	case TypeSyncing, TypeOffline:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Progress describes a stage within a sync cycle.
type Progress struct {
	Stage   string
	Current int
	Total   int
}

// Notification is one status value. Single current value, last-writer-wins
// subject to the priority rule.
type Notification struct {
	Type      Type
	Message   string
	Details   string
	Progress  *Progress
	Timestamp time.Time
	Priority  Priority
}

// New builds a notification with the default priority for its type.
func New(t Type, message string) Notification {
	return Notification{
		Type:      t,
		Message:   message,
		Timestamp: time.Now(),
		Priority:  DefaultPriority(t),
	}
}

// shouldReplace decides whether incoming may replace current.
// A new notification wins only if its priority is >= the current one,
// unless forced. Pure so it can be tested in isolation.
func shouldReplace(current, incoming Notification, force bool) bool {
	if force {
		return true
	}
	if current.Type == TypeNone {
		return true
	}
	return incoming.Priority >= current.Priority
}

// Bus is the single-writer-wins status projection.
type Bus struct {
	mu      sync.Mutex
	current Notification
	subs    []chan Notification
}

// NewBus creates a Bus with no current notification.
func NewBus() *Bus {
	return &Bus{current: Notification{Type: TypeNone}}
}

// Set publishes a notification, subject to the priority rule.
// Returns true if the notification became current.
func (b *Bus) Set(n Notification, force bool) bool {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	b.mu.Lock()
	if !shouldReplace(b.current, n, force) {
		b.mu.Unlock()
		return false
	}
	b.current = n
	subs := make([]chan Notification, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	// Non-blocking fan-out; a slow subscriber misses intermediate values
	// but always sees the latest via Current.
	for _, ch := range subs {
		select {
		case ch <- n:
		default:
		}
	}
	return true
}

// Clear unconditionally resets to none.
func (b *Bus) Clear() {
	b.Set(Notification{Type: TypeNone, Priority: PriorityLow}, true)
}

// Current returns the current notification.
func (b *Bus) Current() Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe returns a channel receiving future notifications.
func (b *Bus) Subscribe() <-chan Notification {
	ch := make(chan Notification, 8)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}
