package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeHubDeliversToAllClients(t *testing.T) {
	h := newSubscribeHub()
	a := h.subscribe()
	b := h.subscribe()

	h.publish("hello")

	require.Equal(t, "hello", <-a.events)
	require.Equal(t, "hello", <-b.events)
}

func TestSubscribeHubCancelStopsDelivery(t *testing.T) {
	h := newSubscribeHub()
	c := h.subscribe()
	c.Cancel()

	h.publish("after cancel")

	select {
	case <-c.events:
		t.Fatal("cancelled client should not receive events")
	default:
	}
}

func TestSubscribeHubDropsOldestWhenFull(t *testing.T) {
	h := newSubscribeHub()
	c := h.subscribe()

	for i := 0; i < subscriberCap+5; i++ {
		h.publish(i)
	}

	require.LessOrEqual(t, len(c.events), subscriberCap)

	first := <-c.events
	require.NotEqual(t, 0, first, "oldest events should have been dropped")
}
