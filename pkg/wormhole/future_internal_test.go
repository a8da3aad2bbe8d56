package wormhole

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	werrors "github.com/yago-123/wormhole/pkg/error"
)

var _ = Describe("Future", func() {
	It("settles only once", func() {
		f := newFuture[string]()
		Expect(f.Settled()).To(BeFalse())
		Expect(f.Err()).NotTo(HaveOccurred())

		Expect(f.resolve("42-apple-banana")).To(BeTrue())
		Expect(f.reject(errors.New("late"))).To(BeFalse())
		Expect(f.resolve("other")).To(BeFalse())

		v, err := f.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("42-apple-banana"))
		Expect(f.Done()).To(BeClosed())
	})

	It("keeps the first rejection", func() {
		f := newFuture[struct{}]()
		first := errors.New("first")

		Expect(f.reject(first)).To(BeTrue())
		Expect(f.reject(errors.New("second"))).To(BeFalse())
		Expect(f.Err()).To(MatchError(first))
	})

	It("stops waiting when the context ends", func() {
		f := newFuture[int]()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.Wait(ctx)
		Expect(err).To(MatchError(context.Canceled))
		Expect(f.Settled()).To(BeFalse())
	})
})

var _ = Describe("closeOutcome", func() {
	DescribeTable("maps close codes",
		func(code int, reason string, expected error) {
			err := closeOutcome(code, reason)
			if expected == nil {
				Expect(err).To(Succeed())
				return
			}
			Expect(err).To(MatchError(expected))
		},
		Entry("no such slot", 4000, "", werrors.ErrNoSuchSlot),
		Entry("timed out", 4001, "", werrors.ErrRelayTimeout),
		Entry("could not get slot", 4002, "", werrors.ErrSlotUnavailable),
		Entry("wrong protocol", 4003, "", werrors.ErrVersionMismatch),
		Entry("peer hung up", 4004, "", nil),
		Entry("going away", 1001, "", nil),
		Entry("anything else", 9999, "x", werrors.ErrRelayClosed),
	)

	It("keeps code and reason of unmapped closes", func() {
		err := closeOutcome(9999, "x")

		var closeErr *werrors.CloseError
		Expect(werrors.As(err, &closeErr)).To(BeTrue())
		Expect(closeErr.Code).To(Equal(9999))
		Expect(closeErr.Reason).To(Equal("x"))
		Expect(err.Error()).To(Equal("websocket session closed: x (9999)"))
	})
})
