package rpimailbox

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// FramebufferAllocation is the result of InitFramebuffer.
type FramebufferAllocation struct {
	Buffer uint32 // ARM physical address
	Size   uint32 // bytes
	Pitch  uint32 // bytes per scanline
}

// Client builds the property requests used during boot and sends them on the property channel.
type Client struct {
	transport Transport
	alloc     Allocator
	log       logr.Logger
}

// NewClient creates a Client on top of t. WithLogger and WithAllocator apply.
// Without WithAllocator messages come from the heap, which suits VCIO and a bare metal Mailbox but not a Mailbox
// driven from Linux (see NewMailbox).
func NewClient(t Transport, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		transport: t,
		alloc:     o.allocator,
		log:       o.log.WithName("property"),
	}
}

func (c *Client) newBuilder(tags ...uint32) (*Builder, error) {
	mem, err := c.alloc.Alloc(messageWords(tags...))
	if err != nil {
		return nil, errors.Wrap(err, "allocate message")
	}
	return NewBuilder(mem), nil
}

func (c *Client) release(msg *Message) {
	if err := msg.Release(); err != nil {
		c.log.Error(err, "releasing message memory failed")
	}
}

// FirmwareVersion returns the firmware revision or FirmwareVersionUnknown.
func (c *Client) FirmwareVersion() uint32 {
	b, err := c.newBuilder(TagGetFirmwareVersion)
	if err != nil {
		c.log.Error(err, "firmware version")
		return FirmwareVersionUnknown
	}
	tag := b.Tag(TagGetFirmwareVersion)
	msg := b.Finish()
	defer c.release(msg)

	if err := c.transport.Call(ChannelProperties, msg); err != nil {
		c.log.Error(err, "firmware version")
		return FirmwareVersionUnknown
	}
	if tag.ID() != TagGetFirmwareVersion {
		c.log.Error(errors.Errorf("got tag 0x%08X", tag.ID()), "firmware version tag not echoed")
		return FirmwareVersionUnknown
	}
	return tag.Value(0)
}

// SetClockRate asks the firmware to run clock id at rateHz and returns the rate it reports back.
// The returned rate is what the firmware applied, which may differ from the request. It is returned even when the call failed.
func (c *Client) SetClockRate(id ClockID, rateHz uint32, skipTurbo bool) uint32 {
	var skip uint32
	if skipTurbo {
		skip = 1
	}
	b, err := c.newBuilder(TagSetClockRate)
	if err != nil {
		c.log.Error(err, "set clock rate")
		return 0
	}
	tag := b.Tag(TagSetClockRate, uint32(id), rateHz, skip)
	msg := b.Finish()
	defer c.release(msg)

	if err := c.transport.Call(ChannelProperties, msg); err != nil {
		c.log.Error(err, "set clock rate", "clock", id, "rate", rateHz)
	}
	return tag.Value(1)
}

// InitFramebuffer configures and allocates a framebuffer of width x height pixels at depth bits per pixel.
// All settings go out in one message. The allocation is only valid when err is nil.
// Zero arguments are a programming error and panic.
func (c *Client) InitFramebuffer(width, height uint16, depth uint8) (FramebufferAllocation, error) {
	if width == 0 || height == 0 || depth == 0 {
		panic(fmt.Sprintf("rpimailbox: invalid framebuffer geometry %dx%d@%d", width, height, depth))
	}
	const (
		offsetX uint32 = 0
		offsetY uint32 = 0
	)
	w, h, d := uint32(width), uint32(height), uint32(depth)
	order := uint32(PixelOrderRGB)

	b, err := c.newBuilder(TagSetPhysicalSize, TagSetVirtualSize, TagSetVirtualOffset,
		TagSetDepth, TagSetPixelOrder, TagAllocateBuffer, TagGetPitch)
	if err != nil {
		return FramebufferAllocation{}, err
	}
	physical := b.Tag(TagSetPhysicalSize, w, h)
	virtual := b.Tag(TagSetVirtualSize, w, h)
	offset := b.Tag(TagSetVirtualOffset, offsetX, offsetY)
	depthTag := b.Tag(TagSetDepth, d)
	orderTag := b.Tag(TagSetPixelOrder, order)
	// FIXME: QEMU freezes on this request unless something is printed here.
	// Likely an unmodelled timing or cache coherency requirement, not a logging need.
	c.log.V(1).Info("framebuffer request built, allocating")
	allocate := b.Tag(TagAllocateBuffer, framebufferAlign, 0)
	pitch := b.Tag(TagGetPitch)
	msg := b.Finish()
	defer c.release(msg)

	fail := func(err error) (FramebufferAllocation, error) {
		c.log.Error(err, "init framebuffer", "width", width, "height", height, "depth", depth)
		return FramebufferAllocation{}, err
	}

	if err := c.transport.Call(ChannelProperties, msg); err != nil {
		return fail(errors.Wrap(err, "mailbox send failed"))
	}
	if physical.Value(0) != w || physical.Value(1) != h {
		return fail(ErrPhysicalSize)
	}
	if virtual.Value(0) != w || virtual.Value(1) != h {
		return fail(ErrVirtualSize)
	}
	if offset.Value(0) != offsetX || offset.Value(1) != offsetY {
		return fail(ErrVirtualOffset)
	}
	if depthTag.Value(0) != d {
		return fail(ErrDepth)
	}
	if orderTag.Value(0) != order {
		return fail(ErrPixelOrder)
	}
	if allocate.Value(0) == 0 || allocate.Value(1) == 0 {
		return fail(ErrAllocate)
	}
	if pitch.Value(0) == 0 {
		return fail(ErrPitch)
	}

	return FramebufferAllocation{
		Buffer: BusToPhys(allocate.Value(0)),
		Size:   allocate.Value(1),
		Pitch:  pitch.Value(0),
	}, nil
}
