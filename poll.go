package rpimailbox

import (
	"github.com/pkg/errors"
)

// Poller waits until ready reports true. Mailbox uses it for both status register waits.
type Poller interface {
	Poll(ready func() bool) error
}

// Spin busy-waits without bound. A co-processor that never answers blocks the caller forever.
type Spin struct{}

// Poll implements Poller.
func (Spin) Poll(ready func() bool) error {
	for !ready() {
	}
	return nil
}

// Bounded busy-waits for at most Attempts evaluations of ready.
type Bounded struct {
	Attempts int
}

// Poll implements Poller.
func (b Bounded) Poll(ready func() bool) error {
	for i := 0; i < b.Attempts; i++ {
		if ready() {
			return nil
		}
	}
	return errors.Wrapf(ErrPollTimeout, "after %d attempts", b.Attempts)
}
