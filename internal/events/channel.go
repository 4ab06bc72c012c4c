// Package events carries foreground changes from the watcher to a single subscriber.
package events

import (
	"sync"
	"time"
)

// ChangeEvent reports a foreground transition. An empty ProcessID means the
// foreground app became unknown.
type ChangeEvent struct {
	ProcessID  string    `json:"process_id"`
	DetectedAt time.Time `json:"detected_at"`
}

// Handler receives change events. It runs on the publisher's goroutine and
// must not call Subscribe or Unsubscribe on the same Channel.
type Handler func(ChangeEvent)

// Channel is a single-slot broadcast point. Events published while no
// handler is registered are dropped, never queued.
type Channel struct {
	mu      sync.RWMutex
	handler Handler
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Subscribe installs h, replacing any previous handler. Once Subscribe
// returns, the previous handler receives nothing further.
func (c *Channel) Subscribe(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Unsubscribe removes the current handler, if any.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
}

// Publish delivers ev to the current handler and reports whether anyone
// received it.
func (c *Channel) Publish(ev ChangeEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.handler == nil {
		return false
	}
	c.handler(ev)
	return true
}

// HasSubscriber reports whether a handler is registered.
func (c *Channel) HasSubscriber() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler != nil
}
