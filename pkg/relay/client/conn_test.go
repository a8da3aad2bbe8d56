package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/coder/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/relay/client"
	"github.com/yago-123/wormhole/pkg/relay/types"
)

// scriptedRelay sends greeting, echoes every message until "quit" and then closes with code
func scriptedRelay(greeting string, code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{types.Protocol}})
		if err != nil {
			return
		}
		defer ws.CloseNow()

		ctx := r.Context()
		if errWrite := ws.Write(ctx, websocket.MessageText, []byte(greeting)); errWrite != nil {
			return
		}

		for {
			_, data, errRead := ws.Read(ctx)
			if errRead != nil {
				return
			}
			if string(data) == "quit" {
				_ = ws.Close(websocket.StatusCode(code), "bye now")
				return
			}
			if errWrite := ws.Write(ctx, websocket.MessageText, data); errWrite != nil {
				return
			}
		}
	})
}

func nextEvent(conn *client.Conn) client.Event {
	var ev client.Event
	EventuallyWithOffset(1, conn.Events(), 5*time.Second).Should(Receive(&ev))
	return ev
}

var _ = Describe("Conn", func() {
	var (
		ctx context.Context
		srv *httptest.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = httptest.NewServer(scriptedRelay("hello", 4242))
		DeferCleanup(srv.Close)
	})

	It("delivers open, messages and the close code in order", func() {
		conn, err := client.Dial(ctx, srv.URL, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(conn.Endpoint()).To(HavePrefix("ws://"))

		Expect(nextEvent(conn).Type).To(Equal(client.EventOpen))

		ev := nextEvent(conn)
		Expect(ev.Type).To(Equal(client.EventMessage))
		Expect(ev.Data).To(Equal("hello"))

		Expect(conn.Send(ctx, "ping")).To(Succeed())
		ev = nextEvent(conn)
		Expect(ev.Data).To(Equal("ping"))

		Expect(conn.Send(ctx, "quit")).To(Succeed())
		ev = nextEvent(conn)
		Expect(ev.Type).To(Equal(client.EventClose))
		Expect(ev.Code).To(Equal(4242))
		Expect(ev.Reason).To(Equal("bye now"))

		Eventually(conn.Events()).Should(BeClosed())
		Expect(conn.Send(ctx, "late")).To(MatchError(errors.ErrTransportClosed))
	})

	It("reports the local close code and ignores repeated closes", func() {
		conn, err := client.Dial(ctx, srv.URL, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(nextEvent(conn).Type).To(Equal(client.EventOpen))
		Expect(nextEvent(conn).Type).To(Equal(client.EventMessage))

		Expect(conn.Close(int(websocket.StatusNormalClosure), "handed off")).To(Succeed())
		Expect(conn.Close(int(websocket.StatusNormalClosure), "again")).To(Succeed())

		ev := nextEvent(conn)
		Expect(ev.Type).To(Equal(client.EventClose))
		Expect(ev.Code).To(Equal(int(websocket.StatusNormalClosure)))

		Expect(conn.Send(ctx, "late")).To(MatchError(errors.ErrTransportClosed))
	})

	It("fails to dial an address that is not a relay", func() {
		plain := httptest.NewServer(http.NotFoundHandler())
		defer plain.Close()

		_, err := client.Dial(ctx, plain.URL, "1", client.WithDialTimeout(time.Second))
		Expect(err).To(HaveOccurred())
	})
})
