// Package rpimailbox talks to the VideoCore co-processor of a Raspberry Pi through the mailbox property interface using plain GO.
//
// The property protocol is described at https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface.
// Messages are exchanged either directly over the mailbox registers (Mailbox) or through the /dev/vcio driver of a running Linux kernel (VCIO).
package rpimailbox

import (
	"github.com/pkg/errors"
)

// Register offsets relative to the mailbox base. Mailbox 0 is read by the ARM, mailbox 1 is written by the ARM.
const (
	RegReadData    uint32 = 0x00
	RegReadStatus  uint32 = 0x18
	RegWriteData   uint32 = 0x20
	RegWriteStatus uint32 = 0x38
)

// Status register bits.
const (
	StatusFull  uint32 = 1 << 31
	StatusEmpty uint32 = 1 << 30
)

// Response codes of the message header.
const (
	CodeRequest        uint32 = 0x00000000
	CodeSuccess        uint32 = 0x80000000
	CodePartialSuccess uint32 = 0x80000001
)

// Mailbox channels. Only ChannelProperties (ARM to VideoCore) is used by this package.
const (
	ChannelPower       uint8 = 0
	ChannelFramebuffer uint8 = 1
	ChannelVUART       uint8 = 2
	ChannelVCHIQ       uint8 = 3
	ChannelLEDs        uint8 = 4
	ChannelButtons     uint8 = 5
	ChannelTouch       uint8 = 6
	ChannelCount       uint8 = 7
	ChannelProperties  uint8 = 8
)

const (
	channelMask  uint32 = 0xF
	busAddrMask  uint32 = 0x3FFFFFFF
	messageAlign        = 16
)

// Errors returned by transports and property calls.
var (
	ErrCallFailed    = errors.New("mailbox call failed")
	ErrAddressRange  = errors.New("message not addressable by the mailbox")
	ErrPollTimeout   = errors.New("mailbox poll gave up")
	ErrPhysicalSize  = errors.New("setting physical dimension failed")
	ErrVirtualSize   = errors.New("setting virtual dimension failed")
	ErrVirtualOffset = errors.New("setting virtual offset failed")
	ErrDepth         = errors.New("setting depth failed")
	ErrPixelOrder    = errors.New("setting pixel order failed")
	ErrAllocate      = errors.New("allocating buffer failed")
	ErrPitch         = errors.New("retrieving pitch failed")
)

// Registers is the raw memory mapped I/O primitive of the mailbox. Offsets are relative to the mailbox base.
type Registers interface {
	Read(offset uint32) uint32
	Write(offset uint32, value uint32)
}

// Transport performs one synchronous property exchange. The response is written back into msg.
// A nil error means the co-processor reported CodeSuccess for the whole message.
type Transport interface {
	Call(channel uint8, msg *Message) error
}

// Memory is 16 byte aligned word storage a Message is framed in.
type Memory interface {
	// Words returns the aligned words. The slice must not be resliced by callers.
	Words() []uint32
	// BusAddr returns the address the co-processor uses for Words()[0].
	BusAddr() (uint32, error)
	// Release frees the storage. The Memory must not be used afterwards.
	Release() error
}

// Allocator hands out Memory for messages.
type Allocator interface {
	Alloc(words int) (Memory, error)
}

// BusToPhys converts a VideoCore bus address to an ARM physical address by clearing the alias bits.
func BusToPhys(x uint32) uint32 {
	return x & busAddrMask
}

// requestWord encodes the mailbox word for a message at busAddr on channel.
func requestWord(busAddr uint32, channel uint8) uint32 {
	return (busAddr &^ channelMask) | (uint32(channel) & channelMask)
}

func checkCode(code uint32) error {
	if code != CodeSuccess {
		return errors.Wrapf(ErrCallFailed, "response code 0x%08X", code)
	}
	return nil
}
