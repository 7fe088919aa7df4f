package session

import "sync"

// Tripwire keeps the first fatal error reported from any goroutine.
// Trip never blocks; later errors are dropped.
type Tripwire struct {
	once sync.Once
	ch   chan error
}

// NewTripwire creates an untripped tripwire.
func NewTripwire() *Tripwire {
	return &Tripwire{ch: make(chan error, 1)}
}

// Trip records err if nothing was recorded before.
func (t *Tripwire) Trip(err error) {
	if err == nil {
		return
	}
	t.once.Do(func() {
		t.ch <- err
	})
}

// C delivers the first error.
func (t *Tripwire) C() <-chan error {
	return t.ch
}
