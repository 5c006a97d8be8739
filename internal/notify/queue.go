// Package notify is the queue of short-lived user notifications (toasts).
package notify

import (
	"sync"
	"time"

	"github.com/HerbHall/jump/internal/metrics"
	"github.com/HerbHall/jump/internal/sched"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL is how long a notification stays visible unless dismissed.
const DefaultTTL = 5 * time.Second

// Severity classifies a notification.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Entry is one visible notification.
type Entry struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Severity  Severity      `json:"severity"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Reason says why an entry left the queue.
type Reason string

const (
	ReasonExpired   Reason = "expired"
	ReasonDismissed Reason = "dismissed"
)

// EventKind distinguishes queue events.
type EventKind string

const (
	EventPushed  EventKind = "pushed"
	EventRemoved EventKind = "removed"
)

// Event describes a change to the queue. Reason is set for removals.
type Event struct {
	Kind   EventKind `json:"kind"`
	Entry  Entry     `json:"entry"`
	Reason Reason    `json:"reason,omitempty"`
}

type item struct {
	entry Entry
	task  sched.ID
}

// Queue holds notifications in insertion order and removes each one
// exactly once, either when its TTL elapses or when it is dismissed.
type Queue struct {
	sched  *sched.Scheduler
	ttl    time.Duration
	logger *zap.Logger

	// emitMu orders subscriber callbacks with the changes that caused them.
	emitMu  sync.Mutex
	mu      sync.Mutex
	order   []string
	items   map[string]*item
	subs    map[uint64]func(Event)
	nextSub uint64
}

// New creates a Queue whose expiries run on s. A ttl of zero means DefaultTTL.
func New(s *sched.Scheduler, ttl time.Duration, logger *zap.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		sched:  s,
		ttl:    ttl,
		logger: logger,
		items:  make(map[string]*item),
		subs:   make(map[uint64]func(Event)),
	}
}

// Push adds a notification with the default TTL and returns its ID.
func (q *Queue) Push(message string, severity Severity) string {
	return q.PushTTL(message, severity, q.ttl)
}

// PushTTL adds a notification that expires after ttl.
func (q *Queue) PushTTL(message string, severity Severity, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = q.ttl
	}

	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	e := Entry{
		ID:        uuid.New().String(),
		Message:   message,
		Severity:  severity,
		CreatedAt: q.sched.Clock().Now(),
		TTL:       ttl,
	}

	q.mu.Lock()
	it := &item{entry: e}
	q.items[e.ID] = it
	q.order = append(q.order, e.ID)
	active := len(q.items)
	subs := q.subscribers()
	q.mu.Unlock()

	// Scheduled after the entry is visible so an immediate expiry finds it.
	task := q.sched.At(e.CreatedAt.Add(ttl), func() { q.remove(e.ID, ReasonExpired) })
	q.mu.Lock()
	if cur, ok := q.items[e.ID]; ok {
		cur.task = task
	}
	q.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(severity)).Inc()
	metrics.NotificationsActive.Set(float64(active))
	q.logger.Debug("notification pushed",
		zap.String("id", e.ID),
		zap.String("severity", string(severity)),
		zap.String("message", message),
	)

	emit(subs, Event{Kind: EventPushed, Entry: e})
	return e.ID
}

// Dismiss removes a notification before its TTL. It reports false if the
// entry is already gone.
func (q *Queue) Dismiss(id string) bool {
	return q.remove(id, ReasonDismissed)
}

// Entries returns the visible notifications, oldest first.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id].entry)
	}
	return out
}

// Len returns the number of visible notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Subscribe registers fn for queue events. The returned func removes it.
// fn must not push to or dismiss from the queue.
func (q *Queue) Subscribe(fn func(Event)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSub++
	id := q.nextSub
	q.subs[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subs, id)
	}
}

func (q *Queue) remove(id string, reason Reason) bool {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.items, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	active := len(q.items)
	subs := q.subscribers()
	q.mu.Unlock()

	if reason != ReasonExpired {
		q.sched.Cancel(it.task)
	}
	metrics.NotificationsActive.Set(float64(active))

	emit(subs, Event{Kind: EventRemoved, Entry: it.entry, Reason: reason})
	return true
}

// subscribers must be called with q.mu held.
func (q *Queue) subscribers() []func(Event) {
	out := make([]func(Event), 0, len(q.subs))
	for _, fn := range q.subs {
		out = append(out, fn)
	}
	return out
}

func emit(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
