package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutInOrder(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypePresence, Data: 1})
	b.Publish(Event{Type: TypePresence, Data: 2})

	for _, ch := range []<-chan Event{a, c} {
		first := <-ch
		second := <-ch
		assert.Equal(t, 1, first.Data)
		assert.Equal(t, 2, second.Data)
		assert.False(t, first.Time.IsZero())
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypePresence})
	b.Publish(Event{Type: TypePresence})
	b.Publish(Event{Type: TypePresence})

	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypePresence})
}
