package client

import (
	"sync"
	"time"
)

// TypingTimeout is the quiet period after which a typing indicator is withdrawn.
const TypingTimeout = 2 * time.Second

type typingTimer struct {
	timer stopper
	gen   uint64
}

type typingState struct {
	mu     sync.Mutex
	timers map[string]typingTimer
	gen    uint64
}

func (s *typingState) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
}

// Typing reports a keystroke in conversationID. The first call sends
// isTyping=true; every call re-arms the quiet timer that sends isTyping=false.
func (c *Client) Typing(conversationID string) error {
	s := &c.typing
	s.mu.Lock()
	prev, active := s.timers[conversationID]
	if active {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[conversationID] = typingTimer{
		timer: c.sched.AfterFunc(TypingTimeout, func() { c.expireTyping(conversationID, gen) }),
		gen:   gen,
	}
	s.mu.Unlock()

	if active {
		return nil
	}
	if err := c.SendTyping(conversationID, true); err != nil {
		// not started; the next keystroke tries again
		c.dropTyping(conversationID, gen)
		return err
	}
	return nil
}

func (c *Client) dropTyping(conversationID string, gen uint64) {
	s := &c.typing
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[conversationID]; ok && t.gen == gen {
		t.timer.Stop()
		delete(s.timers, conversationID)
	}
}

// StopTyping withdraws the indicator right away, e.g. after the message was sent.
func (c *Client) StopTyping(conversationID string) error {
	s := &c.typing
	s.mu.Lock()
	t, ok := s.timers[conversationID]
	if ok {
		t.timer.Stop()
		delete(s.timers, conversationID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return c.SendTyping(conversationID, false)
}

func (c *Client) expireTyping(conversationID string, gen uint64) {
	s := &c.typing
	s.mu.Lock()
	t, ok := s.timers[conversationID]
	if !ok || t.gen != gen {
		// re-armed or stopped meanwhile
		s.mu.Unlock()
		return
	}
	delete(s.timers, conversationID)
	s.mu.Unlock()

	if err := c.SendTyping(conversationID, false); err != nil {
		c.logger.Debug("typing stop not sent", "conversation_id", conversationID, "error", err)
	}
}
