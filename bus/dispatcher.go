package bus

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
)

type policyKind int

const (
	policyBoundedBlock policyKind = iota
	policyDropOldest
)

// Policy decides what happens when a consumer's queue is full.
type Policy struct {
	kind    policyKind
	timeout time.Duration
}

// BoundedBlock gives the consumer up to timeout to free queue space for a
// delivery. An event still waiting for admission past its deadline is
// counted and discarded, so a wedged consumer loses its own deliveries and
// nothing else.
func BoundedBlock(timeout time.Duration) Policy {
	return Policy{kind: policyBoundedBlock, timeout: timeout}
}

// DropOldest evicts the oldest queued event to make room for the new one.
func DropOldest() Policy {
	return Policy{kind: policyDropOldest}
}

// Dispatcher fans canonical events out to registered consumers. Each consumer
// gets its own queue and forwarding goroutine; Publish never blocks, so a
// slow consumer degrades only its own queue per its policy and never the
// producing side or its peers.
type Dispatcher struct {
	capacity int
	log      *zap.Logger

	mu        sync.Mutex
	consumers []*consumer
	closed    bool
}

func NewDispatcher(capacity int, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		capacity: capacity,
		log:      log.Named("dispatcher"),
	}
}

// Register adds a consumer and starts its forwarding goroutine. Events are
// delivered on the returned subscription's Stream in publish order.
func (d *Dispatcher) Register(name string, policy Policy) *interfaces.Subscription[domain.Event] {
	c := &consumer{
		name:     name,
		policy:   policy,
		capacity: d.capacity,
		stream:   make(chan domain.Event),
		log:      d.log,
	}
	c.cond = sync.NewCond(&c.mu)

	sub := &interfaces.Subscription[domain.Event]{
		Stream:      c.stream,
		Topic:       name,
		Unsubscribe: c.close,
	}

	d.mu.Lock()
	d.consumers = append(d.consumers, c)
	d.mu.Unlock()

	go c.run()
	return sub
}

// Publish offers the event to every registered consumer. Per-consumer policy
// decides the outcome when a queue is full; Publish never fails and never
// waits on any consumer.
func (d *Dispatcher) Publish(ev domain.Event) {
	d.mu.Lock()
	consumers := d.consumers
	d.mu.Unlock()

	for _, c := range consumers {
		c.offer(ev)
	}
}

// Close shuts down all consumer queues. Queued events are still drained to
// each consumer's stream before it is closed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	consumers := d.consumers
	d.mu.Unlock()

	for _, c := range consumers {
		c.close()
	}
}

// waiter is a bounded-block delivery parked on a full queue. It is admitted
// when the consumer frees a slot before the deadline, discarded otherwise.
type waiter struct {
	ev       domain.Event
	deadline time.Time
}

type consumer struct {
	name     string
	policy   Policy
	capacity int
	stream   chan domain.Event
	log      *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   deque.Deque[domain.Event]
	waiting deque.Deque[waiter]
	closed  bool
}

func (c *consumer) offer(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.policy.kind == policyDropOldest {
		if c.queue.Len() >= c.capacity {
			c.queue.PopFront()
			promclient.EventsDropped.WithLabelValues(c.name).Inc()
		}
		c.queue.PushBack(ev)
		c.cond.Broadcast()
		return
	}

	now := time.Now()
	c.expireWaiters(now)

	// Parked deliveries keep FIFO order: new events queue behind them even
	// when a slot is free.
	if c.waiting.Len() == 0 && c.queue.Len() < c.capacity {
		c.queue.PushBack(ev)
	} else {
		c.waiting.PushBack(waiter{ev: ev, deadline: now.Add(c.policy.timeout)})
	}
	c.cond.Broadcast()
}

// expireWaiters discards parked deliveries whose admission deadline passed.
// Deadlines are monotone in arrival order, so scanning from the front is
// complete. Caller holds the mutex.
func (c *consumer) expireWaiters(now time.Time) {
	for c.waiting.Len() > 0 && now.After(c.waiting.Front().deadline) {
		c.waiting.PopFront()
		promclient.DeliveryTimeouts.WithLabelValues(c.name).Inc()
		c.log.Warn("delivery timeout, event discarded", zap.String("consumer", c.name))
	}
}

// admitWaiters moves parked deliveries into freed queue slots. Caller holds
// the mutex.
func (c *consumer) admitWaiters() {
	now := time.Now()
	c.expireWaiters(now)
	for c.waiting.Len() > 0 && c.queue.Len() < c.capacity {
		c.queue.PushBack(c.waiting.PopFront().ev)
	}
}

func (c *consumer) run() {
	for {
		c.mu.Lock()
		c.admitWaiters()
		for c.queue.Len() == 0 && !c.closed {
			c.cond.Wait()
			c.admitWaiters()
		}
		if c.queue.Len() == 0 && c.closed {
			c.mu.Unlock()
			close(c.stream)
			return
		}
		ev := c.queue.PopFront()
		c.admitWaiters()
		c.mu.Unlock()

		c.stream <- ev
		promclient.EventsDispatched.WithLabelValues(c.name).Inc()
	}
}

func (c *consumer) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}
