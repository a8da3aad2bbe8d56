package wormhole

import (
	"context"
	"strconv"

	"github.com/pion/webrtc/v4"

	"github.com/yago-123/wormhole/pkg/code"
	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/relay/client"
	"github.com/yago-123/wormhole/pkg/rtc"
)

// initiator is the side that asks the relay for a new slot and hands out the code
type initiator struct {
	*session
}

// New starts a session on a new slot of the relay at relayURL. Code resolves with the pairing code
// as soon as the relay assigned the slot, Done once the peer joined and the session ended
func New(ctx context.Context, relayURL string, opts ...Option) *Wormhole {
	cfg := configure(opts)
	w := newWormhole(true)

	s := &initiator{session: newSession(w, cfg, "initiator")}

	go func() {
		conn, err := client.Dial(ctx, relayURL, "", cfg.relayOptions...)
		if err != nil {
			s.fail(errors.Wrap(errors.ErrSignalingConnection, err))
			return
		}

		s.conn = conn
		s.state = stateAwaitingSlot
		s.run(ctx, s)
	}()

	return w
}

func (s *initiator) onOpen(context.Context) {}

func (s *initiator) onMessage(ctx context.Context, msg string) {
	switch s.state {
	case stateAwaitingSlot:
		s.gotSlot(ctx, msg)
	case stateAwaitingPakeResponse:
		s.gotPakeMessage(ctx, msg)
	case stateEstablished:
		s.gotSignal(ctx, msg)
	default:
	}
}

func (s *initiator) gotSlot(ctx context.Context, msg string) {
	init, err := parseInit(msg)
	if err != nil {
		s.fail(errors.Wrap(errors.ErrInvalidSlot, err))
		return
	}

	if errSecret := s.newSecret(); errSecret != nil {
		s.fail(errors.Wrap(errors.ErrPakeInit, errSecret))
		return
	}

	// The negotiator exists before the code is out, so the peer can never be ahead of it
	if errNegotiator := s.createNegotiator(ctx, init); errNegotiator != nil {
		s.fail(errNegotiator)
		return
	}

	slot, err := strconv.Atoi(init.Slot)
	if err != nil || slot < 0 {
		s.fail(errors.ErrInvalidSlot)
		return
	}

	s.logger = s.logger.WithValues("slot", slot)
	s.state = stateAwaitingPakeResponse
	s.w.Code.resolve(code.Encode(slot, s.secret))
	s.logger.V(1).Info("Got slot from relay")
}

func (s *initiator) gotPakeMessage(ctx context.Context, msg string) {
	key, reply, err := s.crypto.Exchange(s.secret, msg)
	if err != nil || len(key) == 0 {
		s.fail(errors.Wrap(errors.ErrKeyDerivation, errorOrEmpty(err)))
		return
	}
	s.establish(key)

	s.send(ctx, reply)

	s.relayCandidates(ctx)

	offer, err := s.negotiator.CreateOffer()
	if err != nil {
		s.fail(errors.Wrap(errors.ErrNegotiation, err))
		return
	}

	if errSend := s.sendSealed(ctx, offer); errSend != nil {
		s.fail(errSend)
		return
	}
	s.logger.V(1).Info("Sent offer")
}

func (s *initiator) gotSignal(ctx context.Context, msg string) {
	sig, ok := s.openSignal(ctx, msg)
	if !ok {
		return
	}

	switch {
	case sig.Type == webrtc.SDPTypeAnswer.String():
		if err := s.negotiator.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}); err != nil {
			s.fail(errors.Wrap(errors.ErrNegotiation, err))
			return
		}
		s.logger.V(1).Info("Got answer")
	case sig.Candidate != "":
		s.addCandidate(sig)
	default:
		s.logger.V(1).Info("Ignoring unknown signal", "type", sig.Type)
	}
}

func configure(opts []Option) *config {
	cfg := newDefaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	// Components log through the session logger unless they were given their own
	cfg.relayOptions = append([]client.Option{client.WithLogger(cfg.logger)}, cfg.relayOptions...)
	cfg.rtcOptions = append([]rtc.Option{rtc.WithLogger(cfg.logger)}, cfg.rtcOptions...)

	return cfg
}

// errorOrEmpty keeps the failure category when the collaborator gave no reason
func errorOrEmpty(err error) error {
	if err == nil {
		return errors.ErrEmptyKey
	}
	return err
}
