package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Delivery never blocks the publisher. A buffered subscriber whose buffer is
// full misses the event and the drop is counted; a queued subscriber (see
// SubscribeQueue) receives every event in publish order.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Uint64
}

type subscription struct {
	namespace string
	ch        chan Event
	queue     *mailbox
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		if sub.queue != nil {
			sub.queue.push(evt)
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function;
// the channel is never closed, so consumers stop on their own context.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeQueue is like Subscribe but never drops: events wait in an
// unbounded per-subscriber queue until the consumer reads them. Use it where
// a missed event means lost data, such as persistence or live result sets.
func (b *Bus) SubscribeQueue(namespace string) (<-chan Event, func()) {
	ch := make(chan Event)
	q := &mailbox{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch, queue: q}
	b.mu.Unlock()

	go q.pump(ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(q.closed)
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Pending returns how many events queued subscribers have yet to receive.
func (b *Bus) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if sub.queue != nil {
			n += sub.queue.len()
		}
	}
	return n
}

type mailbox struct {
	mu     sync.Mutex
	items  []Event
	wake   chan struct{}
	closed chan struct{}
}

func (m *mailbox) push(evt Event) {
	m.mu.Lock()
	m.items = append(m.items, evt)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// pump hands queued events to out one at a time until the mailbox is closed.
func (m *mailbox) pump(out chan<- Event) {
	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.closed:
				return
			}
		}
		evt := m.items[0]
		m.items[0] = Event{}
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case out <- evt:
		case <-m.closed:
			return
		}
	}
}
