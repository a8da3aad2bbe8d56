package main

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yago-123/wormhole/pkg/code"
)

var _ = Describe("Sharing codes", func() {
	pairingCode := code.Encode(42, []byte{0x01, 0x02})

	It("prints the bare code by default", func() {
		var out bytes.Buffer
		Expect(printCode(&out, pairingCode, false)).To(Succeed())
		Expect(out.String()).To(Equal(pairingCode + "\n"))
	})

	It("adds a QR code below the code", func() {
		var out bytes.Buffer
		Expect(printCode(&out, pairingCode, true)).To(Succeed())

		lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
		Expect(lines[0]).To(Equal(pairingCode))
		Expect(len(lines)).To(BeNumerically(">", 10))
	})

	It("completes the last word of a partial code", func() {
		full := strings.Split(pairingCode, "-")
		partial := full[0] + "-" + full[1] + "-" + full[2][:2]

		Expect(completions(partial)).To(ContainElement(pairingCode))
		for _, c := range completions(partial) {
			Expect(c).To(HavePrefix(partial))
		}
	})

	It("accepts spaces between words", func() {
		full := strings.Split(pairingCode, "-")
		Expect(completions("42 " + full[1])).To(ContainElement("42 " + full[1]))
	})

	It("does not complete the slot", func() {
		Expect(completions("42")).To(BeEmpty())
	})
})
