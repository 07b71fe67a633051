package rpimailbox

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("VCIO", func() {
	It("only speaks the property channel", func() {
		v := &VCIO{handle: 3, log: testLog}
		msg := NewMessage(&farMemory{words: make([]uint32, 8)})
		Expect(v.Call(ChannelFramebuffer, msg)).To(MatchError(ContainSubstring("not supported")))
	})

	It("refuses calls on a closed device", func() {
		v := &VCIO{log: testLog}
		msg := NewMessage(&farMemory{words: make([]uint32, 8)})
		Expect(v.Call(ChannelProperties, msg)).To(MatchError(ContainSubstring("not open")))
		Expect(v.Close()).To(Succeed())
	})
})
