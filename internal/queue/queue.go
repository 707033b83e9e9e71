package queue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/ids"
)

// OverflowPolicy selects what happens when the ring is at capacity and
// a Publisher tries to publish another message (spec §4.2, §9 Open
// Question — decided in DESIGN.md: default is OverflowBlock).
type OverflowPolicy int

const (
	OverflowBlock OverflowPolicy = iota
	OverflowFail
)

// DuplicateProducerError is returned by CreatePublisher when producerID
// is already registered (spec §4.2 failure model).
type DuplicateProducerError struct{ ProducerID string }

func (e *DuplicateProducerError) Error() string {
	return fmt.Sprintf("queue: producer %q already registered", e.ProducerID)
}

// DuplicateConsumerError is returned by CreateConsumer when consumerID
// is already registered.
type DuplicateConsumerError struct{ ConsumerID string }

func (e *DuplicateConsumerError) Error() string {
	return fmt.Sprintf("queue: consumer %q already registered", e.ConsumerID)
}

// BackpressureError is returned by Publisher.Publish under
// OverflowFail when the ring is at capacity.
type BackpressureError struct{ ProducerID string }

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("queue: producer %q backpressured, ring at capacity", e.ProducerID)
}

// ClosedError is returned by CreatePublisher, CreateConsumer and
// Publisher.Publish once the queue has been shut down.
type ClosedError struct{ QueueID string }

func (e *ClosedError) Error() string {
	return fmt.Sprintf("queue: %q is closed", e.QueueID)
}

// MemoryStats summarizes queue occupancy (spec §3.7 aggregate statistics).
type MemoryStats struct {
	TotalMessages   uint64
	ActiveConsumers int
	BytesEstimate   uint64
}

// LagStats reports one consumer's distance behind the producer head.
type LagStats struct {
	ConsumerID string
	Lag        int64
}

// Queue is a bounded ring buffer shared by one producer and any number
// of independent consumers (spec §3.7). Each consumer owns its own read
// cursor; none observes another's progress.
type Queue struct {
	id   string
	bus  *events.Bus
	cap  int
	policy OverflowPolicy

	mu       sync.Mutex
	notFull  *sync.Cond
	ring     []ScanMessage
	head     int64 // total messages ever appended
	closed   bool
	producer string // empty when no publisher registered

	cursors sync.Map // consumerID -> *int64
	totalBytesEstimate uint64
}

// New constructs a Queue with the given id, ring capacity, and overflow
// policy, publishing a Queue/Started event onto bus (spec §4.2
// "create() emits QueueEvent::Started").
func New(bus *events.Bus, id string, capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	q := &Queue{id: id, bus: bus, cap: capacity, policy: policy, ring: make([]ScanMessage, 0, capacity)}
	q.notFull = sync.NewCond(&q.mu)
	bus.Publish(events.NewQueueEvent(events.QueueStarted, id, 0, true, ""))
	return q
}

// ID returns the queue's identifier.
func (q *Queue) ID() string { return q.id }

// Publisher is a registered producer handle (spec §3.7).
type Publisher struct {
	q          *Queue
	producerID string
}

// CreatePublisher registers producerID as the queue's sole active
// publisher. At most one active publisher per producer id (spec §4.2).
func (q *Queue) CreatePublisher(producerID string) (*Publisher, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, &ClosedError{QueueID: q.id}
	}
	if q.producer != "" {
		return nil, &DuplicateProducerError{ProducerID: producerID}
	}
	q.producer = producerID
	return &Publisher{q: q, producerID: producerID}, nil
}

// evictConsumedLocked drops ring entries that every registered consumer
// has already read past, reclaiming capacity. Must be called with q.mu
// held. A queue with zero consumers never evicts — nothing has read
// the messages yet, so "capacity" legitimately bounds on backpressure.
func (q *Queue) evictConsumedLocked() {
	if len(q.ring) == 0 {
		return
	}
	var minCursor int64
	have := false
	q.cursors.Range(func(_, v any) bool {
		c := atomic.LoadInt64(v.(*int64))
		if !have || c < minCursor {
			minCursor = c
			have = true
		}
		return true
	})
	if !have {
		return
	}
	windowStart := q.head - int64(len(q.ring))
	trim := minCursor - windowStart
	if trim <= 0 {
		return
	}
	if trim > int64(len(q.ring)) {
		trim = int64(len(q.ring))
	}
	q.ring = q.ring[trim:]
}

// Publish appends msg to the queue. Under OverflowBlock it blocks the
// caller until room appears or the queue is shut down; under
// OverflowFail it returns a BackpressureError immediately when the ring
// is at capacity (spec §4.2).
func (p *Publisher) Publish(msg ScanMessage) error {
	q := p.q
	q.mu.Lock()
	q.evictConsumedLocked()
	for len(q.ring) >= q.cap {
		if q.closed {
			q.mu.Unlock()
			return &ClosedError{QueueID: q.id}
		}
		if q.policy == OverflowFail {
			q.mu.Unlock()
			return &BackpressureError{ProducerID: p.producerID}
		}
		q.notFull.Wait()
		q.evictConsumedLocked()
	}
	if q.closed {
		q.mu.Unlock()
		return &ClosedError{QueueID: q.id}
	}

	q.ring = append(q.ring, msg)
	q.head++
	size := len(q.ring)
	q.mu.Unlock()

	atomic.AddUint64(&q.totalBytesEstimate, estimateBytes(msg))
	q.bus.Publish(events.NewQueueEvent(events.QueueMessageAdded, q.id, size, true, ""))
	return nil
}

// estimateBytes gives a rough size for MemoryStats.BytesEstimate; exact
// accounting is not required by spec §3.7, only an estimate.
func estimateBytes(msg ScanMessage) uint64 {
	const baseOverhead = 64
	size := uint64(baseOverhead)
	if msg.Content != nil {
		size += uint64(len(msg.Content.Content))
	}
	if msg.Commit != nil {
		size += uint64(len(msg.Commit.Message))
	}
	return size
}

// Consumer is a registered reader with an independent read cursor
// (spec §3.7).
type Consumer struct {
	q          *Queue
	consumerID string
	cursor     *int64 // absolute index into the logical (unbounded) message stream
}

// CreateConsumer registers consumerID with a cursor starting at the
// current head. Duplicate id is an error (spec §4.2).
func (q *Queue) CreateConsumer(consumerID string) (*Consumer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, &ClosedError{QueueID: q.id}
	}
	if _, exists := q.cursors.Load(consumerID); exists {
		return nil, &DuplicateConsumerError{ConsumerID: consumerID}
	}
	start := q.head
	cursor := &start
	q.cursors.Store(consumerID, cursor)
	return &Consumer{q: q, consumerID: consumerID, cursor: cursor}, nil
}

// NewConsumerID generates an opaque consumer id for callers that don't
// carry their own naming scheme.
func NewConsumerID() string { return ids.NewID("cons") }

// Next returns the next message at the consumer's cursor, advancing it,
// and publishes Queue/MessageProcessed. Returns (msg, true) if a
// message was available, or (zero, false) if the consumer is caught up
// to the head (spec §4.2).
func (c *Consumer) Next() (ScanMessage, bool) {
	q := c.q
	q.mu.Lock()
	cur := atomic.LoadInt64(c.cursor)
	// ring holds the logical window [head-len(ring), head); translate
	// the absolute cursor into a ring index.
	windowStart := q.head - int64(len(q.ring))
	if cur < windowStart {
		// Eviction never trims past the slowest registered consumer's
		// cursor, so this should be unreachable; clamp defensively.
		cur = windowStart
	}
	if cur >= q.head {
		q.mu.Unlock()
		return ScanMessage{}, false
	}
	idx := cur - windowStart
	msg := q.ring[idx]
	atomic.StoreInt64(c.cursor, cur+1)
	q.evictConsumedLocked()
	q.mu.Unlock()
	q.notFull.Broadcast()

	q.bus.Publish(events.NewQueueEvent(events.QueueMessageProcessed, q.id, 0, false, ""))
	if c.atHead() {
		q.bus.Publish(events.NewQueueEvent(events.QueueEmpty, q.id, 0, false, ""))
	}
	return msg, true
}

func (c *Consumer) atHead() bool {
	q := c.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return atomic.LoadInt64(c.cursor) >= q.head
}

// Lag returns this consumer's distance behind the producer head.
func (c *Consumer) Lag() int64 {
	q := c.q
	q.mu.Lock()
	head := q.head
	q.mu.Unlock()
	return head - atomic.LoadInt64(c.cursor)
}

// QueueCount returns the number of messages currently retained in the
// ring (spec §4.2 "queue_count").
func (q *Queue) QueueCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ring)
}

// TotalMessageCount returns the total number of messages ever published
// to this queue (spec §4.2 "total_message_count").
func (q *Queue) TotalMessageCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint64(q.head)
}

// ActiveConsumerCount returns the number of registered consumers.
func (q *Queue) ActiveConsumerCount() int {
	n := 0
	q.cursors.Range(func(_, _ any) bool { n++; return true })
	return n
}

// MemoryStats returns aggregate statistics (spec §3.7).
func (q *Queue) MemoryStats() MemoryStats {
	q.mu.Lock()
	total := uint64(q.head)
	q.mu.Unlock()
	return MemoryStats{
		TotalMessages:   total,
		ActiveConsumers: q.ActiveConsumerCount(),
		BytesEstimate:   atomic.LoadUint64(&q.totalBytesEstimate),
	}
}

// LagStatistics returns per-consumer lag (spec §4.2 "lag_statistics").
func (q *Queue) LagStatistics() []LagStats {
	var out []LagStats
	q.cursors.Range(func(key, val any) bool {
		id := key.(string)
		cursor := val.(*int64)
		q.mu.Lock()
		head := q.head
		q.mu.Unlock()
		out = append(out, LagStats{ConsumerID: id, Lag: head - atomic.LoadInt64(cursor)})
		return true
	})
	return out
}

// Shutdown marks the queue closed, wakes any blocked publishers (which
// then observe ClosedError), and publishes Queue/Shutdown (spec §4.2
// "shutdown() emits QueueEvent::Shutdown").
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.bus.Publish(events.NewQueueEvent(events.QueueShutdown, q.id, 0, false, ""))
}
