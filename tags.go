package rpimailbox

// Property tag ids. The id encodes the resource, the operation and get (0x0xxxx), test (0x4xxxx) or set (0x8xxxx).
const (
	TagEnd                uint32 = 0x00000000
	TagGetFirmwareVersion uint32 = 0x00000001
	TagSetClockRate       uint32 = 0x00038002

	TagAllocateMemory uint32 = 0x0003000C
	TagLockMemory     uint32 = 0x0003000D
	TagUnlockMemory   uint32 = 0x0003000E
	TagReleaseMemory  uint32 = 0x0003000F

	TagAllocateBuffer   uint32 = 0x00040001
	TagGetPitch         uint32 = 0x00040008
	TagSetPhysicalSize  uint32 = 0x00048003
	TagSetVirtualSize   uint32 = 0x00048004
	TagSetDepth         uint32 = 0x00048005
	TagSetPixelOrder    uint32 = 0x00048006
	TagSetVirtualOffset uint32 = 0x00048009
)

// Value buffer capacities in bytes of the tags used here.
// A tag's capacity covers the larger of its request and response payload.
var tagCapacity = map[uint32]uint32{
	TagGetFirmwareVersion: 4,
	TagSetClockRate:       12,
	TagAllocateMemory:     12,
	TagLockMemory:         4,
	TagUnlockMemory:       4,
	TagReleaseMemory:      4,
	TagAllocateBuffer:     8,
	TagGetPitch:           4,
	TagSetPhysicalSize:    8,
	TagSetVirtualSize:     8,
	TagSetDepth:           4,
	TagSetPixelOrder:      4,
	TagSetVirtualOffset:   8,
}

// ClockID names a clock domain of the SoC. The value is passed through to the firmware unchanged.
type ClockID uint32

// Known clock domains.
const (
	ClockEMMC ClockID = iota + 1
	ClockUART
	ClockARM
	ClockCore
	ClockV3D
	ClockH264
	ClockISP
	ClockSDRAM
	ClockPixel
	ClockPWM
	ClockHEVC
	ClockEMMC2
	ClockM2MC
	ClockPixelBVB
)

// PixelOrder is the channel order of a framebuffer pixel.
type PixelOrder uint32

// Pixel orders understood by the firmware.
const (
	PixelOrderBGR PixelOrder = 0
	PixelOrderRGB PixelOrder = 1
)

const (
	framebufferAlign = 4096
	// FirmwareVersionUnknown is returned by FirmwareVersion when the firmware did not answer.
	FirmwareVersionUnknown uint32 = 0xFFFFFFFF
)
