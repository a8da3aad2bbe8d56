package wormhole_test

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/coder/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yago-123/wormhole/pkg/code"
	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/relay/types"
	"github.com/yago-123/wormhole/pkg/wormhole"
)

var _ = Describe("Responder", func() {
	var (
		ctx    context.Context
		f      *fakes
		secret = []byte{0x01, 0x02}
		key    = "k" + hex.EncodeToString(secret)
		pcode  = code.Encode(42, secret)
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 20*time.Second)
		DeferCleanup(cancel)

		f = newFakes()
	})

	It("starts the PAKE as soon as the relay session is open", func() {
		relay := newScriptedRelay(func(context.Context, *websocket.Conn) {})

		_, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Eventually(relay.received, waitTimeout).Should(Receive(Equal("start:0102")))
		Expect(f.rec.Calls()).To(Equal([]string{"start"}))
	})

	It("answers a sealed offer with a sealed answer", func() {
		relay := newScriptedRelay(func(ctx context.Context, ws *websocket.Conn) {
			send(ctx, ws, initMessage("42"))
			send(ctx, ws, "reply")
			send(ctx, ws, "sealed("+key+`):{"type":"offer","sdp":"offer-sdp"}`)
		})

		w, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Eventually(relay.received, waitTimeout).Should(Receive(Equal("start:0102")))
		Eventually(relay.received, waitTimeout).Should(Receive(Equal("sealed(" + key + `):{"type":"answer","sdp":"answer-sdp"}`)))
		Expect(f.rec.Calls()).To(HaveExactElements(
			"start", "negotiator", "finish", "open", "remote:offer", "create-answer", ContainSubstring("seal:"),
		))
		Expect(w.Done.Settled()).To(BeFalse())
	})

	It("fails without a key and never opens later messages", func() {
		f.crypto.finishErr = errors.ErrKeyDerivation
		relay := newScriptedRelay(func(ctx context.Context, ws *websocket.Conn) {
			send(ctx, ws, initMessage("42"))
			send(ctx, ws, "reply")
			send(ctx, ws, "sealed("+key+`):{"type":"offer","sdp":"offer-sdp"}`)
		})

		w, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Expect(doneErr(ctx, w)).To(MatchError(errors.ErrKeyDerivation))
		Consistently(f.rec.Calls, 200*time.Millisecond).Should(Equal([]string{"start", "negotiator", "finish"}))
		Expect(f.negotiator.Closed()).To(BeTrue())
	})

	It("rejects a relay configuration it cannot parse", func() {
		relay := newScriptedRelay(func(ctx context.Context, ws *websocket.Conn) {
			send(ctx, ws, "{not json")
		})

		w, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Expect(doneErr(ctx, w)).To(MatchError(errors.ErrNegotiation))
		Expect(f.rec.Calls()).NotTo(ContainElement("negotiator"))
	})

	It("sends a sealed bye when the offer does not open", func() {
		relay := newScriptedRelay(func(ctx context.Context, ws *websocket.Conn) {
			send(ctx, ws, initMessage("42"))
			send(ctx, ws, "reply")
			send(ctx, ws, `sealed(k-mismatch):{"type":"offer","sdp":"offer-sdp"}`)
		})

		w, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Expect(doneErr(ctx, w)).To(MatchError(errors.ErrAuthentication))
		Eventually(relay.received, waitTimeout).Should(Receive(Equal("start:0102")))
		Eventually(relay.received, waitTimeout).Should(Receive(Equal("sealed(" + key + "):bye")))
		Expect(f.rec.Calls()).NotTo(ContainElement("remote:offer"))
	})

	It("reports slots the relay does not know", func() {
		relay := newScriptedRelay(func(ctx context.Context, ws *websocket.Conn) {
			_ = ws.Close(websocket.StatusCode(types.CloseNoSuchSlot), "")
		})

		w, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Expect(doneErr(ctx, w)).To(MatchError(errors.ErrNoSuchSlot))
	})

	It("hands off the relay session once established", func() {
		relay := newScriptedRelay(func(ctx context.Context, ws *websocket.Conn) {
			send(ctx, ws, initMessage("42"))
			send(ctx, ws, "reply")
		})

		w, err := wormhole.Join(ctx, relay.URL, pcode, f.options()...)
		Expect(err).NotTo(HaveOccurred())

		Eventually(f.rec.Calls, waitTimeout).Should(ContainElement("finish"))
		Eventually(f.negotiator.Listening, waitTimeout).Should(BeTrue())
		w.Close()

		Expect(doneErr(ctx, w)).NotTo(HaveOccurred())
		Expect(f.negotiator.Closed()).To(BeFalse())
	})

	DescribeTable("rejects codes it cannot decode",
		func(pairingCode string) {
			w, err := wormhole.Join(ctx, "http://127.0.0.1:1", pairingCode, f.options()...)
			Expect(err).To(MatchError(errors.ErrInvalidCode))
			Expect(w).To(BeNil())
			Expect(f.rec.Calls()).To(BeEmpty())
		},
		Entry("empty", ""),
		Entry("slot only", "42"),
		Entry("unknown words", "42-notaword-either"),
	)
})
