package rpimailbox

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/DerLukas15/rpihardware"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const mailboxWindowSize = 0x40

var curHardware *rpihardware.Hardware // Set during checkHardware

func checkHardware() error {
	if curHardware != nil {
		return nil
	}
	hw, err := rpihardware.Check()
	if err != nil {
		return errors.Wrap(err, "hardware check")
	}
	curHardware = hw
	return nil
}

// PeripheralMap is a peripheral register window mapped into virtual memory. It implements Registers.
type PeripheralMap struct {
	size     uint32 // size of the register window
	physAddr uint32 // physical address of the window
	pageOff  uint32 // offset of the window inside mem
	mem      []byte // from MapSegment
}

// NewPeripheral creates a new PeripheralMap covering sizeInBytes of registers.
func NewPeripheral(sizeInBytes uint32) *PeripheralMap {
	return &PeripheralMap{
		size: sizeInBytes,
	}
}

// OpenMailboxRegisters maps the mailbox registers described by cfg.
func OpenMailboxRegisters(cfg Config) (*PeripheralMap, error) {
	m := NewPeripheral(mailboxWindowSize)
	if err := m.Map(cfg.MailboxAddr(), cfg.MemDev); err != nil {
		return nil, err
	}
	return m, nil
}

// String implements Stringer interface
func (m *PeripheralMap) String() string {
	var res string
	res += fmt.Sprintln("Mapping to peripheral")
	res += fmt.Sprintf("Size %d bytes\n", m.size)
	res += fmt.Sprintf("PhysAddr %x\n", m.physAddr)
	res += fmt.Sprintf("Mapped %t\n", m.mem != nil)
	return res
}

// Map maps the window at physAddr through memDev (MemDevDefault requires root).
func (m *PeripheralMap) Map(physAddr uint32, memDev string) error {
	if err := checkHardware(); err != nil {
		return err
	}
	pageSize := uint32(os.Getpagesize())
	base := physAddr &^ (pageSize - 1)
	m.physAddr = physAddr
	m.pageOff = physAddr - base
	mem, err := MapSegment(memDev, base, pageRoundUp(m.pageOff+m.size))
	if err != nil {
		return errors.Wrap(err, "map peripheral")
	}
	m.mem = mem
	return nil
}

// Unmap unmaps the window.
func (m *PeripheralMap) Unmap() error {
	if m.mem == nil {
		// Not mapped
		return nil
	}
	err := UnmapSegment(m.mem)
	if err != nil {
		return errors.Wrap(err, "unmap peripheral")
	}
	m.mem = nil
	return nil
}

// Read implements Registers.
func (m *PeripheralMap) Read(offset uint32) uint32 {
	return atomic.LoadUint32(m.reg32(offset))
}

// Write implements Registers.
func (m *PeripheralMap) Write(offset uint32, value uint32) {
	atomic.StoreUint32(m.reg32(offset), value)
}

// reg32 returns a pointer to the 32 bit register at offset bytes from the window start.
func (m *PeripheralMap) reg32(offset uint32) *uint32 {
	if m.mem == nil || offset%4 != 0 || offset+4 > m.size {
		panic(fmt.Sprintf("rpimailbox: register offset 0x%X outside mapped window", offset))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[m.pageOff+offset]))
}

// PhysAddr returns the physical address of the window.
func (m *PeripheralMap) PhysAddr() uint32 {
	return m.physAddr
}

// Size returns the size of the window.
func (m *PeripheralMap) Size() uint32 {
	return m.size
}

// MapSegment maps size bytes at the page aligned physAddr of memDev into virtual memory.
func MapSegment(memDev string, physAddr, size uint32) ([]byte, error) {
	memFd, err := os.OpenFile(memDev, os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open memdevice")
	}
	defer memFd.Close()
	flags := unix.MAP_SHARED
	prot := unix.PROT_READ | unix.PROT_WRITE
	mem, err := unix.Mmap(int(memFd.Fd()), int64(physAddr), int(size), prot, flags)
	if err != nil {
		return nil, errors.Wrap(err, "mmap call")
	}
	return mem, nil
}

// UnmapSegment unmaps memory returned by MapSegment.
func UnmapSegment(ref []byte) error {
	err := unix.Munmap(ref)
	if err != nil {
		return errors.Wrap(err, "UnmapSegment")
	}
	return nil
}

func pageRoundUp(size uint32) uint32 {
	pageSize := uint32(os.Getpagesize())
	return (size + pageSize - 1) &^ (pageSize - 1)
}
