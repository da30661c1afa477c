// Package authstate broadcasts session transitions to interested parties.
//
// A Broker is an explicit observable: listeners subscribe, receive every
// event published after that point, and unsubscribe on teardown. The SSE
// notification stream uses it to close itself when its user signs out.
package authstate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
	UserUpdated    EventType = "USER_UPDATED"
)

type Event struct {
	Type    EventType
	UserID  string
	TokenID string
	At      time.Time
}

type Listener func(Event)

type Broker struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]Listener
	logger    *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{listeners: make(map[uint64]Listener), logger: logger}
}

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	id     uint64
	broker *Broker
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.listeners, s.id)
		s.broker.mu.Unlock()
	})
}

func (b *Broker) Subscribe(fn Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.listeners[b.next] = fn
	return &Subscription{id: b.next, broker: b}
}

// Publish calls every listener synchronously in the publisher's goroutine.
// A panicking listener is logged and skipped.
func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	snapshot := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		snapshot = append(snapshot, fn)
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		b.deliver(fn, e)
	}
}

func (b *Broker) deliver(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("auth state listener panicked",
				slog.String("event", string(e.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	fn(e)
}

// Listen returns a channel of events that is closed when ctx ends. Events
// are dropped when the buffer is full so a slow reader cannot stall
// Publish.
func (b *Broker) Listen(ctx context.Context, buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)

	sub := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.logger.Warn("auth state event dropped", slog.String("event", string(e.Type)))
		}
	})

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch
}

// Len reports the number of active listeners.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
