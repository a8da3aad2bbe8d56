package wormhole_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pion/webrtc/v4"

	"github.com/yago-123/wormhole/pkg/code"
	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/nat"
	"github.com/yago-123/wormhole/pkg/relay/server"
	"github.com/yago-123/wormhole/pkg/rtc"
	"github.com/yago-123/wormhole/pkg/wormhole"
)

const waitTimeout = 10 * time.Second

func waitCode(ctx context.Context, w *wormhole.Wormhole) string {
	c, err := w.Code.Wait(ctx)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return c
}

func doneErr(ctx context.Context, w *wormhole.Wormhole) error {
	EventuallyWithOffset(1, w.Done.Done(), waitTimeout).Should(BeClosed())
	_, err := w.Done.Wait(ctx)
	return err
}

var _ = Describe("Wormhole", func() {
	var (
		ctx   context.Context
		relay *httptest.Server
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		DeferCleanup(cancel)

		relay = httptest.NewServer(server.NewRelay(
			server.WithSlotGenerator(func(int) int { return 42 }),
		).Router())
		DeferCleanup(relay.Close)
	})

	It("pairs both sides and exchanges sealed descriptions and candidates", func() {
		a, b := newFakes(), newFakes()

		var reports []nat.Report
		initiator := wormhole.New(ctx, relay.URL, append(a.options(), wormhole.WithNATReport(func(r nat.Report) {
			reports = append(reports, r)
		}))...)

		pairingCode := waitCode(ctx, initiator)
		Expect(pairingCode).To(HavePrefix("42-"))
		Expect(strings.Split(pairingCode, "-")).To(HaveLen(3))

		responder, err := wormhole.Join(ctx, relay.URL, pairingCode, b.options()...)
		Expect(err).NotTo(HaveOccurred())
		Expect(responder.Code).To(BeNil())

		Eventually(b.negotiator.Remote, waitTimeout).Should(ConsistOf(
			webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"},
		))
		Eventually(a.negotiator.Remote, waitTimeout).Should(ConsistOf(
			webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"},
		))

		mid := "0"
		Eventually(a.negotiator.Listening).Should(BeTrue())
		a.negotiator.Emit(&webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 4000 typ host", SDPMid: &mid})
		// Empty candidates mark the end of a generation and are not relayed
		a.negotiator.Emit(&webrtc.ICECandidateInit{Candidate: ""})
		a.negotiator.Emit(nil)

		Eventually(b.negotiator.Candidates, waitTimeout).Should(HaveLen(1))
		Expect(b.negotiator.Candidates()[0].Candidate).To(Equal("candidate:1 1 udp 1 10.0.0.1 4000 typ host"))
		Expect(*b.negotiator.Candidates()[0].SDPMid).To(Equal("0"))
		Expect(reports).To(HaveLen(1))

		Eventually(b.negotiator.Listening).Should(BeTrue())
		b.negotiator.Emit(&webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 1 10.0.0.2 5000 typ host", SDPMid: &mid})

		Eventually(a.negotiator.Candidates, waitTimeout).Should(HaveLen(1))
		Expect(a.negotiator.Candidates()[0].Candidate).To(Equal("candidate:2 1 udp 1 10.0.0.2 5000 typ host"))

		negotiator, err := initiator.Negotiator(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(negotiator).To(BeIdenticalTo(a.negotiator))

		// Hand-off: the initiator leaves the relay and the responder is told its peer hung up
		initiator.Close()
		Expect(doneErr(ctx, initiator)).To(Succeed())
		Expect(doneErr(ctx, responder)).To(Succeed())

		Expect(a.negotiator.Closed()).To(BeFalse())
		Expect(b.negotiator.Closed()).To(BeFalse())
		Expect(b.rec.Calls()).To(HaveExactElements(
			"start", "negotiator", "finish", "open", "remote:offer", "create-answer",
			ContainSubstring("seal:"), "open", "candidate", ContainSubstring(`seal:{"candidate":"candidate:2`),
		))
	})

	It("fails on both sides when the codes do not match", func() {
		a, b := newFakes(), newFakes()

		initiator := wormhole.New(ctx, relay.URL, a.options()...)
		slot, secret := code.Decode(waitCode(ctx, initiator))
		secret[0] ^= 0xff

		responder, err := wormhole.Join(ctx, relay.URL, code.Encode(slot, secret), b.options()...)
		Expect(err).NotTo(HaveOccurred())

		Expect(doneErr(ctx, responder)).To(MatchError(errors.ErrAuthentication))
		Expect(doneErr(ctx, initiator)).To(MatchError(errors.ErrAuthentication))

		Expect(b.negotiator.Remote()).To(BeEmpty())
		Expect(a.negotiator.Remote()).To(BeEmpty())
		Expect(b.rec.Calls()).To(ContainElement("seal:bye"))
		Expect(a.negotiator.Closed()).To(BeTrue())
	})

	It("rejects codes it cannot decode before connecting", func() {
		_, err := wormhole.Join(ctx, relay.URL, "not a code")
		Expect(err).To(MatchError(errors.ErrInvalidCode))
	})

	It("reports unknown slots", func() {
		responder, err := wormhole.Join(ctx, relay.URL, code.Encode(7, []byte{1, 2}), newFakes().options()...)
		Expect(err).NotTo(HaveOccurred())

		Expect(doneErr(ctx, responder)).To(MatchError(errors.ErrNoSuchSlot))
	})

	It("fails a hand-off before the key exists", func() {
		initiator := wormhole.New(ctx, relay.URL, newFakes().options()...)
		waitCode(ctx, initiator)

		initiator.Close()
		Expect(doneErr(ctx, initiator)).To(MatchError(errors.ErrTransportClosed))
	})

	It("connects both sides over WebRTC", func() {
		opts := []wormhole.Option{wormhole.WithRTCOptions(rtc.WithLoopbackCandidates(true))}

		initiator := wormhole.New(ctx, relay.URL, opts...)
		responder, err := wormhole.Join(ctx, relay.URL, waitCode(ctx, initiator), opts...)
		Expect(err).NotTo(HaveOccurred())

		connA, err := initiator.Conn(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer connA.Close()

		connB, err := responder.Conn(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer connB.Close()

		initiator.Close()
		responder.Close()
		Expect(doneErr(ctx, initiator)).To(Succeed())
		Expect(doneErr(ctx, responder)).To(Succeed())

		_, err = connA.Write([]byte("through the wormhole"))
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 64)
		n, err := connB.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("through the wormhole"))
	})
})
