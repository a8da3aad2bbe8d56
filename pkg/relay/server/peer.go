package server

import (
	"context"

	"github.com/coder/websocket"
)

// peer is one websocket side of a slot. Its messages are read in the background so that a
// departure is noticed even while nothing is being forwarded
type peer struct {
	ws   *websocket.Conn
	msgs chan string
	// done is closed by the goroutine relaying the slot once it stops using the peer
	done chan struct{}
}

func newPeer(ctx context.Context, ws *websocket.Conn) *peer {
	p := &peer{
		ws:   ws,
		msgs: make(chan string),
		done: make(chan struct{}),
	}

	go p.readLoop(ctx)

	return p
}

func (p *peer) readLoop(ctx context.Context) {
	defer close(p.msgs)

	for {
		typ, data, err := p.ws.Read(ctx)
		if err != nil {
			return
		}

		if typ != websocket.MessageText {
			continue
		}

		select {
		case p.msgs <- string(data):
		case <-ctx.Done():
			return
		}
	}
}

// waiter is stored for a slot while its first peer waits for the second one
type waiter struct {
	join chan *peer
	// gone is closed when the first peer stops waiting
	gone chan struct{}
}

func newWaiter() *waiter {
	return &waiter{
		join: make(chan *peer),
		gone: make(chan struct{}),
	}
}
