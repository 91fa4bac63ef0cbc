package eventbus

import "sync"

const defaultBuffer = 8

// TypedBus is a type-safe publish/subscribe bus for events of type T.
// Publishing never blocks on a Subscribe channel: a subscriber whose buffer is
// full misses the event. Channels from SubscribeLossless apply backpressure
// instead.
type TypedBus[T any] struct {
	mu     sync.RWMutex
	subs   []*subscriber[T]
	closed bool
	buffer int
	onDrop func()

	// index is guarded by imu, not mu, so Unsubscribe can release a blocked
	// publisher while mu is held.
	imu   sync.Mutex
	index map[<-chan T]*subscriber[T]
}

type subscriber[T any] struct {
	ch       chan T
	lossless bool
	gone     chan struct{}
	once     sync.Once
}

func (s *subscriber[T]) leave() { s.once.Do(func() { close(s.gone) }) }

// Option configures a TypedBus.
type Option func(*busOptions)

type busOptions struct {
	buffer int
	onDrop func()
}

// WithBuffer sets the channel size of new subscribers.
func WithBuffer(n int) Option {
	return func(o *busOptions) { o.buffer = n }
}

// WithDropHook registers f, called each time an event is not delivered to a
// subscriber.
func WithDropHook(f func()) Option {
	return func(o *busOptions) { o.onDrop = f }
}

// NewTyped creates a new TypedBus.
func NewTyped[T any](opts ...Option) *TypedBus[T] {
	o := busOptions{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer < 0 {
		o.buffer = 0
	}
	return &TypedBus[T]{buffer: o.buffer, onDrop: o.onDrop, index: make(map[<-chan T]*subscriber[T])}
}

// Publish sends the event to all subscribers.
func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.lossless {
			select {
			case s.ch <- e:
			case <-s.gone:
			}
			continue
		}
		select {
		case s.ch <- e:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Subscribe registers a subscriber and returns its channel.
func (b *TypedBus[T]) Subscribe() <-chan T {
	return b.subscribe(false)
}

// SubscribeLossless registers a subscriber that receives every event. Publish
// blocks until the subscriber has room or unsubscribes, so the reader must
// keep draining the channel until it calls Unsubscribe or the bus closes.
func (b *TypedBus[T]) SubscribeLossless() <-chan T {
	return b.subscribe(true)
}

func (b *TypedBus[T]) subscribe(lossless bool) <-chan T {
	s := &subscriber[T]{ch: make(chan T, b.buffer), lossless: lossless, gone: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		close(s.ch)
	} else {
		b.subs = append(b.subs, s)
		b.imu.Lock()
		b.index[s.ch] = s
		b.imu.Unlock()
	}
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	// Release publishers blocked on a lossless subscriber before taking the
	// write lock they hold a read lock against.
	b.imu.Lock()
	if s, ok := b.index[sub]; ok {
		s.leave()
		delete(b.index, sub)
	}
	b.imu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(s.ch)
			}
			return
		}
	}
}

// Close closes the bus and all subscriber channels.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.imu.Lock()
	for _, s := range b.subs {
		s.leave()
		close(s.ch)
		delete(b.index, s.ch)
	}
	b.imu.Unlock()
	b.subs = nil
}
