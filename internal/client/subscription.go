package client

import "sync"

// Subscription is one registered handler. Cancel it to stop receiving events.
type Subscription struct {
	client    *Client
	eventType string
	once      sync.Once
}

// Subscribe registers h for events of eventType: a server event type such
// as "new_message", or EventConnectionStatus.
func (c *Client) Subscribe(eventType string, h Handler) *Subscription {
	sub := &Subscription{client: c, eventType: eventType}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subs[eventType] == nil {
		c.subs[eventType] = make(map[*Subscription]Handler)
	}
	c.subs[eventType][sub] = h
	return sub
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		c := s.client
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		handlers := c.subs[s.eventType]
		delete(handlers, s)
		if len(handlers) == 0 {
			delete(c.subs, s.eventType)
		}
	})
}

// emit calls the handlers registered when the event arrived. Handlers may
// subscribe or cancel from inside the callback.
func (c *Client) emit(ev Event) {
	c.subsMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[ev.Type]))
	for _, h := range c.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	c.subsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
