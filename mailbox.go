package rpimailbox

import (
	"runtime"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Mailbox exchanges property messages with the VideoCore over the mailbox registers.
// There is one mailbox for reading responses at the base and one for sending requests at base + 0x20, each with its own status word.
type Mailbox struct {
	regs   Registers
	poller Poller
	log    logr.Logger

	// at most one message in flight
	mu sync.Mutex
}

// NewMailbox creates a Mailbox on top of regs. WithLogger and WithPoller apply.
// Messages sent through it must live in memory whose BusAddr the VideoCore can reach. HeapAllocator only
// satisfies that on bare metal; a process under Linux must build its Client with WithAllocator(UncachedAllocator{...}).
func NewMailbox(regs Registers, opts ...Option) *Mailbox {
	o := buildOptions(opts)
	return &Mailbox{
		regs:   regs,
		poller: o.poller,
		log:    o.log.WithName("mailbox"),
	}
}

// Call sends msg on channel and waits for the co-processor to answer. The response is written in place into msg.
// It returns nil only when the co-processor reported CodeSuccess.
func (m *Mailbox) Call(channel uint8, msg *Message) error {
	busAddr, err := msg.BusAddr()
	if err != nil {
		return errors.Wrap(err, "mailbox call")
	}
	request := requestWord(busAddr, channel)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Nothing else writes to the mailbox, so this wait is expected to pass at once.
	err = m.poller.Poll(func() bool {
		return m.regs.Read(RegWriteStatus)&StatusFull == 0
	})
	if err != nil {
		return errors.Wrap(err, "wait for write")
	}
	m.regs.Write(RegWriteData, request)
	m.log.V(1).Info("request sent", "word", request)

	for {
		err = m.poller.Poll(func() bool {
			return m.regs.Read(RegReadStatus)&StatusEmpty == 0
		})
		if err != nil {
			return errors.Wrap(err, "wait for reply")
		}
		response := m.regs.Read(RegReadData)
		if response == request {
			break
		}
		m.log.V(1).Info("ignoring foreign response", "word", response, "want", request)
	}

	code := msg.Code()
	runtime.KeepAlive(msg)
	return checkCode(code)
}
