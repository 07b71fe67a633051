package rpimailbox

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("PeripheralMap", func() {
	var m *PeripheralMap

	BeforeEach(func() {
		m = NewPeripheral(mailboxWindowSize)
		m.pageOff = 0x80
		m.mem = make([]byte, 0x100)
	})

	It("reads back what was written at an offset", func() {
		m.Write(RegWriteData, 0x00100008)
		Expect(m.Read(RegWriteData)).To(Equal(uint32(0x00100008)))
		Expect(m.Read(RegReadData)).To(BeZero())
		Expect(m.mem[0x80+RegWriteData]).To(Equal(byte(0x08)))
	})

	It("panics outside the register window", func() {
		Expect(func() { m.Read(mailboxWindowSize) }).To(Panic())
		Expect(func() { m.Write(RegWriteData+2, 1) }).To(Panic())
	})

	It("panics when not mapped", func() {
		Expect(NewPeripheral(mailboxWindowSize).String()).To(ContainSubstring("Mapped false"))
		Expect(func() { NewPeripheral(mailboxWindowSize).Read(RegReadStatus) }).To(Panic())
	})

	It("unmaps an unmapped window without error", func() {
		Expect(NewPeripheral(mailboxWindowSize).Unmap()).To(Succeed())
	})
})

var _ = Describe("pageRoundUp", func() {
	It("rounds to whole pages", func() {
		page := uint32(os.Getpagesize())
		Expect(pageRoundUp(1)).To(Equal(page))
		Expect(pageRoundUp(page)).To(Equal(page))
		Expect(pageRoundUp(page + 1)).To(Equal(2 * page))
	})
})

var _ = Describe("Config", func() {
	It("locates the mailbox of a Raspberry Pi 3", func() {
		Expect(DefaultConfig().MailboxAddr()).To(Equal(uint32(0x3F00B880)))
	})
})
