package rpimailbox

import (
	"github.com/go-logr/logr"
)

// Default host paths and addresses.
const (
	MemDevDefault         = "/dev/mem"
	VCIODevDefault        = "/dev/vcio"
	PeripheralBaseDefault = 0x3F000000 // BCM2837
	MailboxOffsetDefault  = 0xB880
)

// Config holds the settings of the host backends.
type Config struct {
	MemDev         string
	VCIODev        string
	PeripheralBase uint32
	MailboxOffset  uint32
}

// DefaultConfig returns the settings of a Raspberry Pi 3.
func DefaultConfig() Config {
	return Config{
		MemDev:         MemDevDefault,
		VCIODev:        VCIODevDefault,
		PeripheralBase: PeripheralBaseDefault,
		MailboxOffset:  MailboxOffsetDefault,
	}
}

// MailboxAddr returns the physical address of the mailbox registers.
func (c Config) MailboxAddr() uint32 {
	return c.PeripheralBase + c.MailboxOffset
}

type options struct {
	log       logr.Logger
	poller    Poller
	allocator Allocator
}

// Option configures a Mailbox or a Client.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithPoller replaces the unbounded Spin poller.
func WithPoller(p Poller) Option {
	return func(o *options) {
		o.poller = p
	}
}

// WithAllocator replaces the HeapAllocator used for messages.
func WithAllocator(a Allocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:       logr.Discard(),
		poller:    Spin{},
		allocator: HeapAllocator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
