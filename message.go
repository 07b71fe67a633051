package rpimailbox

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	headerWords    = 2 // size, code
	tagHeaderWords = 3 // id, capacity, request/response
	responseBit    = uint32(1 << 31)
)

// HeapAllocator allocates message memory from the Go heap. The bus address is the address of the words itself,
// which only holds when the ARM and the VideoCore share an identity mapping below 4 GiB (bare metal).
// Under Linux a heap address is virtual even when it fits in 32 bits, so a Mailbox client there needs UncachedAllocator.
type HeapAllocator struct{}

type heapMemory struct {
	backing []uint32 // keeps the unaligned allocation alive
	words   []uint32
}

// Alloc returns words 16 byte aligned words.
func (HeapAllocator) Alloc(words int) (Memory, error) {
	if words <= 0 {
		return nil, errors.Errorf("invalid message length %d", words)
	}
	slack := messageAlign / 4
	backing := make([]uint32, words+slack)
	start := 0
	for ; start < slack; start++ {
		if uintptr(unsafe.Pointer(&backing[start]))%messageAlign == 0 {
			break
		}
	}
	if start == slack {
		return nil, errors.New("unable to align message words")
	}
	return &heapMemory{
		backing: backing,
		words:   backing[start : start+words : start+words],
	}, nil
}

func (m *heapMemory) Words() []uint32 {
	return m.words
}

func (m *heapMemory) BusAddr() (uint32, error) {
	addr := uint64(uintptr(unsafe.Pointer(&m.words[0])))
	if addr > 0xFFFFFFFF {
		return 0, errors.Wrapf(ErrAddressRange, "address 0x%X", addr)
	}
	return uint32(addr), nil
}

func (m *heapMemory) Release() error {
	m.backing = nil
	m.words = nil
	return nil
}

// Message is one property buffer: [size][code][tags...][0].
type Message struct {
	mem   Memory
	words []uint32
}

// NewMessage frames a message in mem.
func NewMessage(mem Memory) *Message {
	return &Message{
		mem:   mem,
		words: mem.Words(),
	}
}

// Word returns word i of the message.
func (m *Message) Word(i int) uint32 {
	return m.words[i]
}

// SetWord sets word i of the message.
func (m *Message) SetWord(i int, v uint32) {
	m.words[i] = v
}

// Words returns the message words. Transports write the response into them.
func (m *Message) Words() []uint32 {
	return m.words
}

// Size returns the size in bytes stored in the header.
func (m *Message) Size() uint32 {
	return m.words[0]
}

// Code returns the request/response code.
func (m *Message) Code() uint32 {
	return m.words[1]
}

// BusAddr returns the address the co-processor uses for the message.
func (m *Message) BusAddr() (uint32, error) {
	return m.mem.BusAddr()
}

// Release frees the underlying memory.
func (m *Message) Release() error {
	m.words = nil
	return m.mem.Release()
}

// String implements Stringer interface.
func (m *Message) String() string {
	var res string
	for i, w := range m.words {
		res += fmt.Sprintf("[%d] 0x%08X\n", i, w)
	}
	return res
}

// messageWords returns the number of words a message carrying tags needs.
func messageWords(tags ...uint32) int {
	n := headerWords + 1
	for _, id := range tags {
		n += tagHeaderWords + int(capacityOf(id)+3)/4
	}
	return n
}

func capacityOf(id uint32) uint32 {
	c, ok := tagCapacity[id]
	if !ok {
		panic(fmt.Sprintf("rpimailbox: unknown tag 0x%08X", id))
	}
	return c
}

// Builder appends tags to a message and writes the framing words.
type Builder struct {
	msg *Message
	off int
}

// NewBuilder starts a request in mem. mem must be large enough for all tags plus header and end tag.
func NewBuilder(mem Memory) *Builder {
	if n := len(mem.Words()); n < headerWords+1 {
		panic(fmt.Sprintf("rpimailbox: message of %d words cannot hold header and end tag", n))
	}
	return &Builder{
		msg: NewMessage(mem),
		off: headerWords,
	}
}

// Tag appends a tag with its known capacity. Payload words not given are zeroed.
func (b *Builder) Tag(id uint32, payload ...uint32) TagRef {
	return b.AppendTag(id, capacityOf(id), payload...)
}

// AppendTag appends a tag with a value buffer of capacity bytes.
func (b *Builder) AppendTag(id, capacity uint32, payload ...uint32) TagRef {
	valueWords := int(capacity+3) / 4
	if len(payload) > valueWords {
		panic(fmt.Sprintf("rpimailbox: tag 0x%08X payload of %d words exceeds capacity %d", id, len(payload), capacity))
	}
	if b.off+tagHeaderWords+valueWords+1 > len(b.msg.words) {
		panic(fmt.Sprintf("rpimailbox: tag 0x%08X does not fit into %d words", id, len(b.msg.words)))
	}
	ref := TagRef{msg: b.msg, off: b.off, valueWords: valueWords}
	b.msg.words[b.off] = id
	b.msg.words[b.off+1] = capacity
	b.msg.words[b.off+2] = CodeRequest
	value := b.msg.words[b.off+tagHeaderWords : b.off+tagHeaderWords+valueWords]
	for i := range value {
		value[i] = 0
	}
	copy(value, payload)
	b.off += tagHeaderWords + valueWords
	return ref
}

// Finish writes the end tag and the header and returns the message.
func (b *Builder) Finish() *Message {
	b.msg.words[b.off] = TagEnd
	b.msg.words[0] = uint32(b.off+1) * 4
	b.msg.words[1] = CodeRequest
	return b.msg
}

// TagRef locates one tag inside a message.
type TagRef struct {
	msg        *Message
	off        int
	valueWords int
}

// ID returns the tag id currently stored in the message.
func (t TagRef) ID() uint32 {
	return t.msg.words[t.off]
}

// Capacity returns the value buffer size in bytes.
func (t TagRef) Capacity() uint32 {
	return t.msg.words[t.off+1]
}

// IsResponse reports whether the co-processor marked the tag as answered.
func (t TagRef) IsResponse() bool {
	return t.msg.words[t.off+2]&responseBit != 0
}

// ResponseLen returns the response length in bytes. It may exceed Capacity, in which case the value was truncated.
func (t TagRef) ResponseLen() uint32 {
	if !t.IsResponse() {
		return 0
	}
	return t.msg.words[t.off+2] &^ responseBit
}

// Value returns value word i.
func (t TagRef) Value(i int) uint32 {
	if i < 0 || i >= t.valueWords {
		panic(fmt.Sprintf("rpimailbox: value %d out of range for tag 0x%08X", i, t.ID()))
	}
	return t.msg.words[t.off+tagHeaderWords+i]
}
