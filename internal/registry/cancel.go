package registry

import "sync"

// CancelSignal is a set-once flag observed cooperatively by the background
// task draining an engine stream. Set is idempotent; Done exposes a channel
// that closes when the signal fires so callers can select on it.
type CancelSignal struct {
	once sync.Once
	done chan struct{}
}

// NewCancelSignal returns an unset signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{done: make(chan struct{})}
}

// Set fires the signal. Safe to call any number of times from any goroutine.
func (c *CancelSignal) Set() {
	c.once.Do(func() { close(c.done) })
}

// IsSet reports whether the signal has fired.
func (c *CancelSignal) IsSet() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the signal fires.
func (c *CancelSignal) Done() <-chan struct{} {
	return c.done
}
