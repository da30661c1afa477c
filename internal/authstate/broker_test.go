package authstate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker() *Broker {
	return NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	b := newTestBroker()

	var got []EventType
	sub := b.Subscribe(func(e Event) { got = append(got, e.Type) })
	defer sub.Unsubscribe()

	b.Publish(Event{Type: SignedIn, UserID: "u1"})
	b.Publish(Event{Type: TokenRefreshed, UserID: "u1"})
	b.Publish(Event{Type: SignedOut, UserID: "u1"})

	assert.Equal(t, []EventType{SignedIn, TokenRefreshed, SignedOut}, got)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := newTestBroker()

	calls := 0
	sub := b.Subscribe(func(Event) { calls++ })
	b.Publish(Event{Type: SignedIn})
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(Event{Type: SignedOut})

	assert.Equal(t, 1, calls)
	assert.Zero(t, b.Len())
}

func TestPublish_PanickingListenerIsIsolated(t *testing.T) {
	b := newTestBroker()

	b.Subscribe(func(Event) { panic("boom") })
	delivered := false
	b.Subscribe(func(Event) { delivered = true })

	assert.NotPanics(t, func() { b.Publish(Event{Type: UserUpdated}) })
	assert.True(t, delivered)
}

func TestPublish_SetsTimestamp(t *testing.T) {
	b := newTestBroker()

	var got Event
	b.Subscribe(func(e Event) { got = e })
	b.Publish(Event{Type: SignedIn})

	assert.False(t, got.At.IsZero())
}

func TestListen_ClosesOnCancel(t *testing.T) {
	b := newTestBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Listen(ctx, 4)
	b.Publish(Event{Type: SignedOut, UserID: "u1"})

	select {
	case e := <-ch:
		assert.Equal(t, SignedOut, e.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublish_Concurrent(t *testing.T) {
	b := newTestBroker()

	var (
		mu    sync.Mutex
		count int
	)
	b.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(Event{Type: TokenRefreshed})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
