package node

import "sync"

// subscriberCap bounds each Client's pending-event channel. A slow
// subscriber that falls behind has its oldest pending event dropped to
// make room for the new one, rather than blocking Publish or growing
// without bound.
const subscriberCap = 32

// Client receives events published through a Context. Unlike a fan-out
// built around a dedicated subscriptionHandler goroutine and update
// channel, registration and cancellation here are just a mutex-guarded
// map — there is no separate dispatch loop to coordinate with.
type Client struct {
	id     uint64
	events chan interface{}
	cancel func()
}

// Events returns the channel events are delivered on.
func (c *Client) Events() <-chan interface{} { return c.events }

// Cancel unsubscribes c; no further events are delivered to it.
func (c *Client) Cancel() { c.cancel() }

type subscribeHub struct {
	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]*Client
}

func newSubscribeHub() *subscribeHub {
	return &subscribeHub{clients: make(map[uint64]*Client)}
}

func (h *subscribeHub) subscribe() *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	c := &Client{
		id:     id,
		events: make(chan interface{}, subscriberCap),
	}
	c.cancel = func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
	}
	h.clients[id] = c
	return c
}

func (h *subscribeHub) publish(event interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		select {
		case c.events <- event:
		default:
			// Full: drop the oldest pending event, then deliver the new
			// one. The channel can only be emptied by its owning
			// goroutine so this non-blocking drain-and-retry is safe:
			// worst case we skip delivery this one time if a concurrent
			// reader also just drained it.
			select {
			case <-c.events:
			default:
			}
			select {
			case c.events <- event:
			default:
			}
		}
	}
}
