package channel

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/Chichichkin/forgelog/internal/logging"
)

type Status uint8

const (
	Enqueued Status = iota
	EvictedOlder
	Closed
)

func (s Status) String() string {
	switch s {
	case Enqueued:
		return "ENQUEUED"
	case EvictedOlder:
		return "EVICTED_OLDER"
	case Closed:
		return "CLOSED"
	default:
		return "INVALID"
	}
}

// Result describes what happened to a submitted event. Evicted is only set
// when Status is EvictedOlder.
type Result struct {
	Status  Status
	Evicted logging.Event
}

type Option func(*Channel)

// WithEvictHook registers fn to be called, outside the channel lock, with every
// event evicted to make room for a newer one.
func WithEvictHook(fn func(logging.Event)) Option {
	return func(c *Channel) {
		c.onEvict = fn
	}
}

// Channel is a bounded multi-producer, single-consumer FIFO. When full, the
// oldest queued event is dropped so that producers never block.
type Channel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []logging.Event
	head   int
	size   int
	closed bool

	consuming atomic.Bool
	onEvict   func(logging.Event)
}

func New(capacity int, opts ...Option) *Channel {
	if capacity <= 0 {
		capacity = logging.DefaultQueueCapacity
	}
	c := &Channel{
		ring: make([]logging.Event, capacity),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Submit(ev logging.Event) Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{Status: Closed}
	}

	res := Result{Status: Enqueued}
	if c.size == len(c.ring) {
		res = Result{Status: EvictedOlder, Evicted: c.ring[c.head]}
		c.ring[c.head] = logging.Event{}
		c.head = (c.head + 1) % len(c.ring)
		c.size--
	}
	c.ring[(c.head+c.size)%len(c.ring)] = ev
	c.size++
	c.cond.Signal()
	c.mu.Unlock()

	if res.Status == EvictedOlder && c.onEvict != nil {
		c.onEvict(res.Evicted)
	}
	return res
}

// Close stops accepting events. Events already queued are still delivered.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cond.Broadcast()
}

func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Channel) Cap() int {
	return len(c.ring)
}

// Consume returns the event sequence. It blocks between events and ends once
// the channel is closed and empty. Only one consumer is allowed.
func (c *Channel) Consume() iter.Seq[logging.Event] {
	if !c.consuming.CompareAndSwap(false, true) {
		panic("channel: Consume called more than once")
	}
	return func(yield func(logging.Event) bool) {
		for {
			ev, ok := c.next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

func (c *Channel) next() (logging.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.size == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.size == 0 {
		return logging.Event{}, false
	}
	ev := c.ring[c.head]
	c.ring[c.head] = logging.Event{}
	c.head = (c.head + 1) % len(c.ring)
	c.size--
	return ev, true
}
