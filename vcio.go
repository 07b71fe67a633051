package rpimailbox

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// VCIO exchanges property messages through the /dev/vcio driver of a running Linux kernel.
// The kernel owns the mailbox registers and always uses the property channel.
type VCIO struct {
	handle int
	log    logr.Logger

	mu sync.Mutex
}

// OpenVCIO opens the vcio device at path (usually VCIODevDefault). WithLogger applies.
func OpenVCIO(path string, opts ...Option) (*VCIO, error) {
	if err := checkHardware(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	handle, err := vcOpen(path)
	if err != nil {
		return nil, err
	}
	return &VCIO{
		handle: handle,
		log:    o.log.WithName("vcio"),
	}, nil
}

// Call implements Transport. Only ChannelProperties is supported.
func (v *VCIO) Call(channel uint8, msg *Message) error {
	if channel != ChannelProperties {
		return errors.Errorf("vcio: channel %d not supported", channel)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle <= 0 {
		return errors.New("vcio: device not open")
	}
	if err := vcExchange(v.handle, msg.Words()); err != nil {
		return errors.Wrap(err, "ioctl vcio msg")
	}
	v.log.V(1).Info("message exchanged", "code", msg.Code())
	return checkCode(msg.Code())
}

// Close closes the device.
func (v *VCIO) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle <= 0 {
		return nil
	}
	err := vcClose(v.handle)
	v.handle = 0
	return err
}
