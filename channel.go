package datacollector

import "sync"

// fieldChannel is the single-slot latest-value holder for one field. It
// buffers at most the most recently published value; publishing while a
// value is still unconsumed overwrites it. The slot never queues.
//
// Publishers may be any number of goroutines; the one synchronizer task is
// the only consumer. It is nudged through the shared capacity-1 wake
// channel, so repeated publishes collapse into a single wakeup.
type fieldChannel struct {
	wake   chan<- struct{}
	value  any
	mu     sync.Mutex
	fresh  bool
	closed bool
}

func newFieldChannel(wake chan<- struct{}) *fieldChannel {
	return &fieldChannel{wake: wake}
}

// publish stores value as the latest for this field and wakes the
// synchronizer. Returns whether an unconsumed value was overwritten.
// Publishing to a released channel is a no-op.
func (c *fieldChannel) publish(value any) (superseded bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	superseded = c.fresh
	c.value = value
	c.fresh = true
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return superseded
}

// take consumes the buffered value if a fresh one is present. The next
// take returns false until publish is called again.
func (c *fieldChannel) take() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.fresh {
		return nil, false
	}
	c.fresh = false
	return c.value, true
}

// release closes the slot and drops any buffered value. Further publishes
// are ignored. Safe to call more than once.
func (c *fieldChannel) release() {
	c.mu.Lock()
	c.closed = true
	c.value = nil
	c.fresh = false
	c.mu.Unlock()
}
