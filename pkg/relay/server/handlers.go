package server

import (
	"context"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"

	"github.com/yago-123/wormhole/pkg/relay/store"
	"github.com/yago-123/wormhole/pkg/relay/types"
)

const (
	directionToResponder = "a_to_b"
	directionToInitiator = "b_to_a"
)

type Handler struct {
	store  store.Store[*waiter]
	cfg    *config
	logger logr.Logger
}

func newHandler(s store.Store[*waiter], cfg *config) *Handler {
	return &Handler{
		store:  s,
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// NewSlotHandler allocates a slot for the initiating peer and keeps it open until a second peer
// joins or the slot times out. The handler relays the slot once it is paired
func (h *Handler) NewSlotHandler(c *gin.Context) {
	ctx := c.Request.Context()

	ws := h.accept(c)
	if ws == nil {
		return
	}
	defer ws.CloseNow()

	w := newWaiter()
	defer close(w.gone)

	slot, ok := h.allocate(w)
	if !ok {
		h.close(ws, types.CloseNoMoreSlots, "cannot allocate slots")
		return
	}
	defer func() {
		h.store.Release(slot)
		recordReleased()
	}()
	recordAllocated()

	logger := h.logger.WithValues("slot", slot)
	logger.V(1).Info("Allocated slot")

	if err := h.sendInit(ctx, ws, slot); err != nil {
		logger.V(1).Info("Failed to send slot to initiator", "error", err.Error())
		return
	}

	initiator := newPeer(ctx, ws)

	timer := time.NewTimer(h.cfg.slotTimeout)
	defer timer.Stop()

	// Anything the initiator sends before its peer arrives is held back and delivered on pairing
	var pending []string

	for {
		select {
		case responder := <-w.join:
			recordPaired()
			logger.V(1).Info("Slot paired")
			h.relay(ctx, logger, initiator, responder, pending)
			return
		case msg, open := <-initiator.msgs:
			if !open {
				logger.V(1).Info("Initiator left before a peer joined")
				return
			}
			pending = append(pending, msg)
		case <-timer.C:
			logger.V(1).Info("Slot timed out")
			h.close(ws, types.CloseSlotTimedOut, "timed out")
			return
		case <-ctx.Done():
			return
		}
	}
}

// JoinSlotHandler attaches the responding peer to a waiting slot
func (h *Handler) JoinSlotHandler(c *gin.Context) {
	ctx := c.Request.Context()

	ws := h.accept(c)
	if ws == nil {
		return
	}
	defer ws.CloseNow()

	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		h.close(ws, types.CloseNoSuchSlot, "no such slot")
		return
	}

	w, ok := h.store.Claim(slot)
	if !ok {
		h.close(ws, types.CloseNoSuchSlot, "no such slot")
		return
	}

	logger := h.logger.WithValues("slot", slot)

	// Failing here still hands the peer over, its closed reader makes the relay hang up the initiator
	if errInit := h.sendInit(ctx, ws, slot); errInit != nil {
		logger.V(1).Info("Failed to send slot to responder", "error", errInit.Error())
	}

	responder := newPeer(ctx, ws)

	select {
	case w.join <- responder:
		select {
		case <-responder.done:
		case <-ctx.Done():
		}
	case <-w.gone:
		// The initiator left before the pairing, the slot was never joined
		h.close(ws, types.CloseNoSuchSlot, "no such slot")
	case <-ctx.Done():
	}
}

// relay forwards text messages between both peers until one of them goes away, then hangs up the other
func (h *Handler) relay(ctx context.Context, logger logr.Logger, initiator, responder *peer, pending []string) {
	defer close(responder.done)

	for _, msg := range pending {
		if err := responder.ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			h.close(initiator.ws, types.ClosePeerHungUp, "peer hung up")
			return
		}
		recordMessage(directionToResponder)
	}

	for {
		select {
		case msg, open := <-initiator.msgs:
			if !open {
				logger.V(1).Info("Initiator hung up")
				h.close(responder.ws, types.ClosePeerHungUp, "peer hung up")
				return
			}
			if err := responder.ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				logger.V(1).Info("Failed to forward to responder", "error", err.Error())
				h.close(initiator.ws, types.ClosePeerHungUp, "peer hung up")
				return
			}
			recordMessage(directionToResponder)
		case msg, open := <-responder.msgs:
			if !open {
				logger.V(1).Info("Responder hung up")
				h.close(initiator.ws, types.ClosePeerHungUp, "peer hung up")
				return
			}
			if err := initiator.ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				logger.V(1).Info("Failed to forward to initiator", "error", err.Error())
				h.close(responder.ws, types.ClosePeerHungUp, "peer hung up")
				return
			}
			recordMessage(directionToInitiator)
		case <-ctx.Done():
			return
		}
	}
}

// accept upgrades the request and enforces the relay subprotocol. Returns nil if the session is over
func (h *Handler) accept(c *gin.Context) *websocket.Conn {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		Subprotocols:       []string{types.Protocol},
		InsecureSkipVerify: true,
	})
	if err != nil {
		// Accept already wrote the HTTP error
		h.logger.V(1).Info("Websocket upgrade failed", "remote", c.ClientIP(), "error", err.Error())
		return nil
	}

	if ws.Subprotocol() != types.Protocol {
		h.close(ws, types.CloseWrongProto, "wrong protocol, please upgrade client")
		return nil
	}

	return ws
}

func (h *Handler) allocate(w *waiter) (int, bool) {
	for range allocAttempts {
		slot := h.cfg.slotGen(h.cfg.maxSlots)
		if h.store.Reserve(slot, w) {
			return slot, true
		}
	}

	return 0, false
}

func (h *Handler) sendInit(ctx context.Context, ws *websocket.Conn, slot int) error {
	return wsjson.Write(ctx, ws, types.InitMessage{
		Slot:       strconv.Itoa(slot),
		ICEServers: h.cfg.iceServers,
	})
}

func (h *Handler) close(ws *websocket.Conn, code int, reason string) {
	recordClose(code)

	if err := ws.Close(websocket.StatusCode(code), reason); err != nil {
		h.logger.V(1).Info("Close handshake did not complete", "code", code, "error", err.Error())
	}
}
