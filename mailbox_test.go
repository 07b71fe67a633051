package rpimailbox

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Mailbox", func() {
	var (
		sim *simCoprocessor
		mb  *Mailbox
	)

	BeforeEach(func() {
		sim = newSimCoprocessor()
		mb = NewMailbox(sim, WithLogger(testLog))
	})

	firmwareMessage := func() *Message {
		mem, err := sim.Alloc(messageWords(TagGetFirmwareVersion))
		Expect(err).NotTo(HaveOccurred())
		b := NewBuilder(mem)
		b.Tag(TagGetFirmwareVersion)
		return b.Finish()
	}

	table.DescribeTable("reports the response code of the message",
		func(code uint32, success bool) {
			sim.firmware.code = code
			err := mb.Call(ChannelProperties, firmwareMessage())
			if success {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(errors.Is(err, ErrCallFailed)).To(BeTrue())
			}
		},
		table.Entry("success", CodeSuccess, true),
		table.Entry("partial success", CodePartialSuccess, false),
		table.Entry("untouched request", CodeRequest, false),
		table.Entry("garbage", uint32(0x12345678), false),
	)

	It("encodes the bus address and the channel into the request word", func() {
		msg := firmwareMessage()
		Expect(mb.Call(ChannelProperties, msg)).To(Succeed())
		Expect(sim.writes).To(Equal([]uint32{0x00100008}))
	})

	It("writes the response into the message", func() {
		msg := firmwareMessage()
		Expect(mb.Call(ChannelProperties, msg)).To(Succeed())
		Expect(msg.Code()).To(Equal(CodeSuccess))
		Expect(msg.Word(5)).To(Equal(sim.firmware.version))
	})

	It("waits while the write mailbox is full", func() {
		sim.writeFull = 5
		Expect(mb.Call(ChannelProperties, firmwareMessage())).To(Succeed())
		Expect(sim.writeFull).To(Equal(0))
		Expect(sim.writes).To(HaveLen(1))
	})

	It("waits while the read mailbox is empty", func() {
		sim.replyWait = 7
		Expect(mb.Call(ChannelProperties, firmwareMessage())).To(Succeed())
		Expect(sim.replyWait).To(Equal(0))
		Expect(sim.fifo).To(BeEmpty())
	})

	It("ignores responses to other requests", func() {
		sim.foreign = []uint32{0x00200008, 0x00100001}
		Expect(mb.Call(ChannelProperties, firmwareMessage())).To(Succeed())
		Expect(sim.events).To(Equal([]string{
			"write 0x00100008",
			"read 0x00200008",
			"read 0x00100001",
			"read 0x00100008",
		}))
		Expect(sim.fifo).To(BeEmpty())
	})

	It("never starts a request before the previous one was answered", func() {
		first := firmwareMessage()
		second := firmwareMessage()
		Expect(mb.Call(ChannelProperties, first)).To(Succeed())
		Expect(mb.Call(ChannelProperties, second)).To(Succeed())
		Expect(sim.events).To(Equal([]string{
			"write 0x00100008",
			"read 0x00100008",
			"write 0x00100108",
			"read 0x00100108",
		}))
	})

	It("keeps one request in flight under concurrent callers", func() {
		const callers = 32
		locked := &lockedSim{sim: sim}
		mb = NewMailbox(locked, WithLogger(testLog))
		msgs := make([]*Message, callers)
		for i := range msgs {
			msgs[i] = firmwareMessage()
		}

		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for _, msg := range msgs {
			wg.Add(1)
			go func(msg *Message) {
				defer GinkgoRecover()
				defer wg.Done()
				errs <- mb.Call(ChannelProperties, msg)
			}(msg)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(locked.maxInFlight).To(Equal(1))
		Expect(sim.writes).To(HaveLen(callers))
		for _, msg := range msgs {
			Expect(msg.Word(5)).To(Equal(sim.firmware.version))
		}
	})

	It("gives up when a bounded poller runs out of attempts", func() {
		sim.silent = true
		mb = NewMailbox(sim, WithLogger(testLog), WithPoller(Bounded{Attempts: 10}))
		err := mb.Call(ChannelProperties, firmwareMessage())
		Expect(errors.Is(err, ErrPollTimeout)).To(BeTrue())
		Expect(sim.writes).To(HaveLen(1))
	})

	It("gives up waiting for a full write mailbox with a bounded poller", func() {
		sim.writeFull = 100
		mb = NewMailbox(sim, WithPoller(Bounded{Attempts: 3}))
		err := mb.Call(ChannelProperties, firmwareMessage())
		Expect(errors.Is(err, ErrPollTimeout)).To(BeTrue())
		Expect(sim.writes).To(BeEmpty())
	})

	It("refuses messages outside the mailbox address range", func() {
		msg := NewMessage(&farMemory{words: make([]uint32, 8)})
		err := mb.Call(ChannelProperties, msg)
		Expect(errors.Is(err, ErrAddressRange)).To(BeTrue())
		Expect(sim.statusReads).To(Equal(0))
		Expect(sim.writes).To(BeEmpty())
	})
})

// lockedSim lets goroutines share a simCoprocessor and counts requests written but not yet read back.
type lockedSim struct {
	mu          sync.Mutex
	sim         *simCoprocessor
	inFlight    int
	maxInFlight int
}

func (l *lockedSim) Read(offset uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.sim.Read(offset)
	if offset == RegReadData {
		l.inFlight--
	}
	return v
}

func (l *lockedSim) Write(offset uint32, value uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sim.Write(offset, value)
	l.inFlight++
	if l.inFlight > l.maxInFlight {
		l.maxInFlight = l.inFlight
	}
}

var _ = Describe("Pollers", func() {
	It("spins until ready", func() {
		n := 0
		Expect(Spin{}.Poll(func() bool {
			n++
			return n == 50
		})).To(Succeed())
		Expect(n).To(Equal(50))
	})

	It("stops after the given number of attempts", func() {
		n := 0
		err := Bounded{Attempts: 4}.Poll(func() bool {
			n++
			return false
		})
		Expect(errors.Is(err, ErrPollTimeout)).To(BeTrue())
		Expect(n).To(Equal(4))
	})

	It("returns as soon as ready within the bound", func() {
		n := 0
		Expect(Bounded{Attempts: 4}.Poll(func() bool {
			n++
			return n == 2
		})).To(Succeed())
		Expect(n).To(Equal(2))
	})
})

var _ = Describe("request word", func() {
	It("keeps only the low four channel bits", func() {
		Expect(requestWord(0x00100000, 8)).To(Equal(uint32(0x00100008)))
		Expect(requestWord(0x0010000F, 0x18)).To(Equal(uint32(0x00100008)))
		Expect(fmt.Sprintf("0x%08X", BusToPhys(0xC0001000))).To(Equal("0x00001000"))
	})
})
