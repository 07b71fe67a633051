package rpimailbox

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/pkg/errors"
)

// Memory flags for uncached memory
const (
	UncachedMemFlagDiscardable     uint32 = 1 << 0                                          // can be resized to 0 at any time. Use for cached data
	UncachedMemFlagNormal          uint32 = 0 << 2                                          // normal allocating alias. Don't use from ARM
	UncachedMemFlagDirect          uint32 = 1 << 2                                          // 0xC alias uncached
	UncachedMemFlagCoherent        uint32 = 2 << 2                                          // 0x8 alias. Non-allocating in L2 but coherent
	UncachedMemFlagZero            uint32 = 1 << 4                                          // initialise buffer to all zeros
	UncachedMemFlagNoInit          uint32 = 1 << 5                                          // don't initialise (default is initialise to all ones)
	UncachedMemFlagHintPermaLock   uint32 = 1 << 6                                          // Likely to be locked for long periods of time
	UncachedMemFlagL1Nonallocation        = UncachedMemFlagDirect | UncachedMemFlagCoherent // Allocating in L2
)

// UncachedMap is VideoCore memory mapped into this process. It implements Memory, so a message framed in it
// has a bus address the mailbox registers accept even when the caller runs under Linux.
type UncachedMap struct {
	transport Transport // used to allocate, lock, unlock and release
	memDev    string
	size      uint32   // size of allocated memory
	busAddr   uint32   // bus address
	physAddr  uint32   // physical address
	memRef    uint32   // memory reference from videocore
	mmapRef   []byte   // from MapSegment
	words     []uint32 // view of mmapRef
}

// NewUncached creates a new UncachedMap of sizeInBytes. Requests go through t, which must not itself need
// uncached memory (use VCIO).
func NewUncached(t Transport, memDev string, sizeInBytes uint32) *UncachedMap {
	return &UncachedMap{
		transport: t,
		memDev:    memDev,
		size:      sizeInBytes,
	}
}

// String implements Stringer interface.
func (m *UncachedMap) String() string {
	var res string
	res += fmt.Sprintln("Uncached memory")
	res += fmt.Sprintf("Size %d bytes\n", m.size)
	res += fmt.Sprintf("PhysAddr %x\n", m.physAddr)
	res += fmt.Sprintf("BusAddr %x\n", m.busAddr)
	return res
}

// Map allocates, locks and maps the memory.
func (m *UncachedMap) Map(uncachedMemFlags uint32) error {
	err := m.allocate(uint32(os.Getpagesize()), uncachedMemFlags)
	if err != nil {
		return errors.Wrap(err, "uncached map allocate")
	}
	err = m.lock()
	if err != nil {
		m.free() // Ignore error
		return errors.Wrap(err, "uncached map lock")
	}
	return nil
}

// Unmap unmaps and releases the memory.
func (m *UncachedMap) Unmap() error {
	var err error
	if m.busAddr != 0 {
		err = m.unlock()
		if err != nil {
			return err
		}
	}
	if m.memRef != 0 {
		err = m.free()
		if err != nil {
			return err
		}
	}
	return nil
}

// Words implements Memory.
func (m *UncachedMap) Words() []uint32 {
	return m.words
}

// BusAddr implements Memory.
func (m *UncachedMap) BusAddr() (uint32, error) {
	if m.busAddr == 0 {
		return 0, errors.Wrap(ErrAddressRange, "uncached memory not locked")
	}
	return m.busAddr, nil
}

// Release implements Memory.
func (m *UncachedMap) Release() error {
	return m.Unmap()
}

// PhysAddr returns the current physical address if available.
func (m *UncachedMap) PhysAddr() uint32 {
	return m.physAddr
}

// Size returns the current size.
func (m *UncachedMap) Size() uint32 {
	return m.size
}

// vcMsg sends a single tag to the videocore and returns the first value word.
func (m *UncachedMap) vcMsg(tag uint32, payload ...uint32) (uint32, error) {
	mem, err := HeapAllocator{}.Alloc(messageWords(tag))
	if err != nil {
		return 0, err
	}
	b := NewBuilder(mem)
	ref := b.Tag(tag, payload...)
	msg := b.Finish()
	defer msg.Release()
	if err := m.transport.Call(ChannelProperties, msg); err != nil {
		return 0, errors.Wrapf(err, "tag 0x%08X", tag)
	}
	return ref.Value(0), nil
}

// allocate uncached memory through videocore
func (m *UncachedMap) allocate(align, flags uint32) error {
	if m.memRef != 0 {
		return errors.New("already allocated")
	}
	ref, err := m.vcMsg(TagAllocateMemory, m.size, align, flags)
	if err != nil {
		return errors.Wrap(err, "uncachedMap alloc")
	}
	if ref == 0 {
		return errors.New("videocore refused allocation")
	}
	m.memRef = ref
	return nil
}

// free allocated uncached memory
func (m *UncachedMap) free() error {
	if m.memRef == 0 {
		return nil
	}
	status, err := m.vcMsg(TagReleaseMemory, m.memRef)
	if err != nil {
		return errors.Wrap(err, "uncachedMap free")
	}
	if status != 0 {
		return errors.New("could not free mbox mem")
	}
	m.memRef = 0
	return nil
}

// lock allocated uncached memory and get adresses
func (m *UncachedMap) lock() error {
	if m.busAddr != 0 {
		return errors.New("already locked")
	}
	busAddr, err := m.vcMsg(TagLockMemory, m.memRef)
	if err != nil {
		return errors.Wrap(err, "uncachedMap lock")
	}
	if busAddr == 0 {
		return errors.New("videocore refused lock")
	}
	m.busAddr = busAddr
	m.physAddr = BusToPhys(busAddr)
	mem, err := MapSegment(m.memDev, m.physAddr, pageRoundUp(m.size))
	if err != nil {
		m.unlock() // Ignore error
		return errors.Wrap(err, "uncachedMap lock")
	}
	m.mmapRef = mem
	m.words = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), m.size/4)
	return nil
}

// unlock and release uncached memory
func (m *UncachedMap) unlock() error {
	if m.busAddr == 0 {
		return nil
	}
	status, err := m.vcMsg(TagUnlockMemory, m.memRef)
	if err != nil {
		return errors.Wrap(err, "uncachedMap unlock")
	}
	if status != 0 {
		return errors.New("could not unlock mbox mem")
	}
	if m.mmapRef != nil {
		err = UnmapSegment(m.mmapRef)
		if err != nil {
			return errors.Wrap(err, "uncachedMap unlock")
		}
	}
	m.busAddr = 0
	m.physAddr = 0
	m.mmapRef = nil
	m.words = nil
	return nil
}

// UncachedAllocator hands out UncachedMap memory for messages sent over the mailbox registers from Linux.
type UncachedAllocator struct {
	Transport Transport
	MemDev    string
	Flags     uint32
}

// Alloc implements Allocator.
func (a UncachedAllocator) Alloc(words int) (Memory, error) {
	if words <= 0 {
		return nil, errors.Errorf("invalid message length %d", words)
	}
	m := NewUncached(a.Transport, a.MemDev, uint32(words)*4)
	if err := m.Map(a.Flags); err != nil {
		return nil, err
	}
	return m, nil
}
