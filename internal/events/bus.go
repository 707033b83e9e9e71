package events

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/repostats/repostats/internal/ids"
)

// Tunables from spec §4.1. These are package-level constants rather
// than Bus fields because every Bus in a process shares the same
// health policy; a future need to vary them per-Bus can promote them
// to constructor arguments without breaking callers.
const (
	SubscriberHighWaterMark = 10000
	StaleSubscriberTimeout  = 300 * time.Second
	MinErrorLogInterval     = 60 * time.Second
	ErrorRateThreshold      = 0.10
	MemoryExhaustionThresh  = 1_000_000
	MaxActiveSubscribers    = 1000
	MaxProblematicRatio     = 0.50
)

// Stats is a point-in-time snapshot of a subscriber's health counters
// (spec §3.2 "Subscriber record").
type Stats struct {
	SubscriberID      string
	Filter            Filter
	Source            string
	QueueSize         int
	MessagesProcessed uint64
	ErrorCount        uint64
	LastMessageTime   time.Time
	LastErrorTime     time.Time
}

// subscriber is the Bus's internal bookkeeping for one Subscribe call.
// It is never exposed directly; Stats is the read-only view callers get.
type subscriber struct {
	id     string
	filter Filter
	source string
	ch     chan Event

	mu                sync.Mutex
	messagesProcessed uint64
	errorCount        uint64
	lastMessageTime   time.Time
	lastErrorTime     time.Time
	lastErrorLogTime  time.Time
}

// Bus is a typed, filtered publish/subscribe hub. The zero value is not
// ready to use; construct with New. A nil *Bus behaves like a Bus with
// no subscribers, so components that are handed an optional bus (e.g.
// plugins run outside a live system) can call Publish without a nil
// check, mirroring the teacher's internal/events.Bus nil-safety.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber
}

// New constructs an empty Bus. log may be nil, in which case a discard
// logger is used.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{log: log, subs: make(map[string]*subscriber)}
}

// Subscribe registers a new subscriber with the given filter and
// bounded channel capacity, returning its id and receive channel. The
// channel is closed by Unsubscribe; callers must keep draining it until
// it closes to avoid being marked stale.
func (b *Bus) Subscribe(filter Filter, source string, bufSize int) (string, <-chan Event) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return "", ch
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	id := ids.NewID("sub")
	s := &subscriber{id: id, filter: filter, source: source, ch: make(chan Event, bufSize)}

	b.mu.Lock()
	b.subs[id] = s
	n := len(b.subs)
	b.mu.Unlock()

	if n > MaxActiveSubscribers {
		b.log.Warn("subscriber count exceeds configured maximum",
			"count", n, "max", MaxActiveSubscribers)
	}
	return id, s.ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once for the same id.
func (b *Bus) Unsubscribe(id string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Publish delivers ev to every subscriber whose filter matches its
// Kind. Delivery is non-blocking: a subscriber whose channel is full
// does not receive the event and its error count is incremented rather
// than the publisher stalling (spec §4.1, §5). Publish reports the ids
// of subscribers it could not deliver to, letting callers raise
// PublishFailed as described in spec §7 when that list is non-empty.
func (b *Bus) Publish(ev Event) (failedSubscribers []string) {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Matches(ev.Kind) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	now := time.Now()
	for _, s := range targets {
		select {
		case s.ch <- ev:
			s.mu.Lock()
			s.messagesProcessed++
			s.lastMessageTime = now
			s.mu.Unlock()
		default:
			s.mu.Lock()
			s.errorCount++
			s.lastErrorTime = now
			shouldLog := now.Sub(s.lastErrorLogTime) >= MinErrorLogInterval
			if shouldLog {
				s.lastErrorLogTime = now
			}
			s.mu.Unlock()
			failedSubscribers = append(failedSubscribers, s.id)
			if shouldLog {
				b.log.Warn("dropping event for full subscriber channel",
					"subscriber_id", s.id, "source", s.source, "kind", ev.Kind.String())
			}
		}
	}
	return failedSubscribers
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// HasSubscriber reports whether id is currently registered.
func (b *Bus) HasSubscriber(id string) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[id]
	return ok
}

// SubscriberStatistics returns a snapshot of a single subscriber's
// counters, or false if id is not registered.
func (b *Bus) SubscriberStatistics(id string) (Stats, bool) {
	if b == nil {
		return Stats{}, false
	}
	b.mu.RLock()
	s, ok := b.subs[id]
	b.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return s.snapshot(), true
}

// AllStatistics returns a snapshot of every registered subscriber.
func (b *Bus) AllStatistics() []Stats {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Stats, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.snapshot())
	}
	return out
}

func (s *subscriber) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SubscriberID:      s.id,
		Filter:            s.filter,
		Source:            s.source,
		QueueSize:         len(s.ch),
		MessagesProcessed: s.messagesProcessed,
		ErrorCount:        s.errorCount,
		LastMessageTime:   s.lastMessageTime,
		LastErrorTime:     s.lastErrorTime,
	}
}

// Health describes the result of AssessSubscriberHealth for a single
// subscriber (spec §4.1: high_water_mark, stale, and error_prone are
// disjoint-or-overlapping sets, not mutually exclusive).
type Health struct {
	SubscriberID  string
	HighWaterMark bool
	Stale         bool
	ErrorProne    bool
}

// AssessSubscriberHealth classifies every subscriber along three axes:
// high water mark (queue_size >= SubscriberHighWaterMark), stale (at
// the high water mark with no delivery progress within
// StaleSubscriberTimeout), and error-prone (error rate over
// ErrorRateThreshold measured against messages_processed).
func (b *Bus) AssessSubscriberHealth() []Health {
	if b == nil {
		return nil
	}
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Health, 0, len(b.subs))
	for _, s := range b.subs {
		s.mu.Lock()
		queueSize := len(s.ch)
		hwm := queueSize >= SubscriberHighWaterMark
		stale := hwm && (s.lastMessageTime.IsZero() || now.Sub(s.lastMessageTime) > StaleSubscriberTimeout)
		errorProne := s.messagesProcessed > 0 &&
			float64(s.errorCount)/float64(s.messagesProcessed) >= ErrorRateThreshold
		s.mu.Unlock()
		out = append(out, Health{SubscriberID: s.id, HighWaterMark: hwm, Stale: stale, ErrorProne: errorProne})
	}
	return out
}

// AutoUnsubscribeStale removes and closes every subscriber classified
// stale by AssessSubscriberHealth, returning their ids.
func (b *Bus) AutoUnsubscribeStale() []string {
	if b == nil {
		return nil
	}
	var removed []string
	for _, h := range b.AssessSubscriberHealth() {
		if h.Stale {
			b.Unsubscribe(h.SubscriberID)
			removed = append(removed, h.SubscriberID)
		}
	}
	return removed
}

// PerformHealthMaintenance assesses every subscriber, emits a
// rate-limited warning for each error-prone or high-water-mark entry
// (at most once per MinErrorLogInterval per subscriber), then reaps the
// stale set. It is intended to be called on a periodic ticker by the
// owning process (spec §4.1, §5).
func (b *Bus) PerformHealthMaintenance() {
	if b == nil {
		return
	}
	now := time.Now()
	for _, h := range b.AssessSubscriberHealth() {
		if !h.HighWaterMark && !h.ErrorProne {
			continue
		}
		b.mu.RLock()
		s, ok := b.subs[h.SubscriberID]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		s.mu.Lock()
		shouldLog := now.Sub(s.lastErrorLogTime) >= MinErrorLogInterval
		if shouldLog {
			s.lastErrorLogTime = now
		}
		s.mu.Unlock()
		if shouldLog {
			b.log.Warn("subscriber health degraded",
				"subscriber_id", h.SubscriberID, "high_water_mark", h.HighWaterMark, "error_prone", h.ErrorProne)
		}
	}

	removed := b.AutoUnsubscribeStale()
	if len(removed) > 0 {
		b.log.Info("reaped stale subscribers", "count", len(removed), "ids", removed)
	}
	b.checkSystemOverload()
}

// CheckMemoryExhaustion reports whether the sum of all subscriber queue
// sizes exceeds MemoryExhaustionThresh (spec §4.1, §5).
func (b *Bus) CheckMemoryExhaustion() bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, s := range b.subs {
		total += len(s.ch)
	}
	return total > MemoryExhaustionThresh
}

// CheckSystemOverload reports whether the subscriber population is
// overloaded: either the active count exceeds MaxActiveSubscribers, or
// the problematic ratio (subscribers at their high water mark or stale,
// as a fraction of all subscribers) exceeds MaxProblematicRatio (spec
// §4.1).
func (b *Bus) CheckSystemOverload() bool {
	if b == nil {
		return false
	}
	health := b.AssessSubscriberHealth()
	if len(health) == 0 {
		return false
	}
	if len(health) > MaxActiveSubscribers {
		return true
	}
	problematic := 0
	for _, h := range health {
		if h.HighWaterMark || h.Stale {
			problematic++
		}
	}
	return float64(problematic)/float64(len(health)) > MaxProblematicRatio
}

// checkSystemOverload logs a warning when CheckSystemOverload is true.
func (b *Bus) checkSystemOverload() {
	if b.CheckSystemOverload() {
		health := b.AssessSubscriberHealth()
		b.log.Warn("subscriber population is overloaded", "subscribers", len(health))
	}
}
