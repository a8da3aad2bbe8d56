package wormhole

import (
	"context"
	"strconv"

	"github.com/pion/webrtc/v4"

	"github.com/yago-123/wormhole/pkg/code"
	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/relay/client"
)

// responder is the side that joins an existing slot with the code it was given
type responder struct {
	*session
}

// Join connects to the slot named by pairingCode on the relay at relayURL. It fails right away with
// ErrInvalidCode when the code cannot be decoded
func Join(ctx context.Context, relayURL, pairingCode string, opts ...Option) (*Wormhole, error) {
	slot, secret := code.Decode(pairingCode)
	if len(secret) == 0 {
		return nil, errors.ErrInvalidCode
	}

	cfg := configure(opts)
	w := newWormhole(false)

	s := &responder{session: newSession(w, cfg, "responder")}
	s.secret = secret
	s.logger = s.logger.WithValues("slot", slot)

	go func() {
		conn, err := client.Dial(ctx, relayURL, strconv.Itoa(slot), cfg.relayOptions...)
		if err != nil {
			s.fail(errors.Wrap(errors.ErrSignalingConnection, err))
			return
		}

		s.conn = conn
		s.run(ctx, s)
	}()

	return w, nil
}

func (s *responder) onOpen(ctx context.Context) {
	if s.state != stateConnecting {
		return
	}

	msg, err := s.crypto.Start(s.secret)
	if err != nil || msg == "" {
		s.fail(errors.Wrap(errors.ErrPakeInit, errorOrEmpty(err)))
		return
	}

	s.send(ctx, msg)

	s.state = stateAwaitingInit
}

func (s *responder) onMessage(ctx context.Context, msg string) {
	switch s.state {
	case stateAwaitingInit:
		s.gotInit(ctx, msg)
	case stateAwaitingPakeFinal:
		s.gotPakeMessage(ctx, msg)
	case stateEstablished:
		s.gotSignal(ctx, msg)
	default:
	}
}

func (s *responder) gotInit(ctx context.Context, msg string) {
	init, err := parseInit(msg)
	if err != nil {
		s.fail(errors.Wrap(errors.ErrNegotiation, err))
		return
	}

	if errNegotiator := s.createNegotiator(ctx, init); errNegotiator != nil {
		s.fail(errNegotiator)
		return
	}

	s.state = stateAwaitingPakeFinal
}

func (s *responder) gotPakeMessage(ctx context.Context, msg string) {
	key, err := s.crypto.Finish(msg)
	if err != nil || len(key) == 0 {
		s.fail(errors.Wrap(errors.ErrKeyDerivation, errorOrEmpty(err)))
		return
	}
	s.establish(key)

	s.relayCandidates(ctx)
}

func (s *responder) gotSignal(ctx context.Context, msg string) {
	sig, ok := s.openSignal(ctx, msg)
	if !ok {
		return
	}

	switch {
	case sig.Type == webrtc.SDPTypeOffer.String():
		if err := s.negotiator.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
			s.fail(errors.Wrap(errors.ErrNegotiation, err))
			return
		}
		s.logger.V(1).Info("Got offer")

		answer, err := s.negotiator.CreateAnswer()
		if err != nil {
			s.fail(errors.Wrap(errors.ErrNegotiation, err))
			return
		}

		if errSend := s.sendSealed(ctx, answer); errSend != nil {
			s.fail(errSend)
			return
		}
		s.logger.V(1).Info("Sent answer")
	case sig.Candidate != "":
		s.addCandidate(sig)
	default:
		s.logger.V(1).Info("Ignoring unknown signal", "type", sig.Type)
	}
}
