// Package wormhole pairs two peers that share a short code. Both connect to an untrusted relay,
// agree on a session key with a PAKE keyed by the code and then exchange the negotiation of a
// direct connection sealed under that key
package wormhole

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v4"

	errors "github.com/yago-123/wormhole/pkg/error"
	"github.com/yago-123/wormhole/pkg/nat"
	"github.com/yago-123/wormhole/pkg/relay/client"
	"github.com/yago-123/wormhole/pkg/relay/types"
)

// byeMessage is sealed and sent when a message of the peer cannot be opened
const byeMessage = "bye"

// Crypto runs the PAKE round and seals negotiation messages. Start and Finish are used by the
// joining side, Exchange by the side that created the slot. Seal must be safe for concurrent use
type Crypto interface {
	Start(secret []byte) (string, error)
	Exchange(secret []byte, msg string) (key []byte, reply string, err error)
	Finish(msg string) ([]byte, error)
	Seal(key, plaintext []byte) (string, error)
	Open(key []byte, ciphertext string) ([]byte, error)
}

// Negotiator sets up the direct transport from the sealed offer/answer exchange
type Negotiator interface {
	// CreateOffer creates an offer and sets it as local description
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as local description
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// OnICECandidate registers a callback for gathered candidates, called with nil when gathering is complete
	OnICECandidate(f func(*webrtc.ICECandidateInit))
	LocalDescription() *webrtc.SessionDescription
}

type NegotiatorFactory func(ctx context.Context, iceServers []webrtc.ICEServer) (Negotiator, error)

// Wormhole is a running pairing session
type Wormhole struct {
	// Code resolves with the pairing code to hand to the peer. Nil for joined sessions
	Code *Future[string]
	// Done resolves when the relay session ends successfully and is rejected with the failure otherwise
	Done *Future[struct{}]

	negotiator *Future[Negotiator]

	handoff     chan struct{}
	handoffOnce sync.Once
}

// Negotiator waits for the direct transport negotiator of the session
func (w *Wormhole) Negotiator(ctx context.Context) (Negotiator, error) {
	return w.negotiator.Wait(ctx)
}

// Conn waits for the direct connection to the peer. It requires a negotiator able to hand out a
// net.Conn, like the default WebRTC one
func (w *Wormhole) Conn(ctx context.Context) (net.Conn, error) {
	n, err := w.negotiator.Wait(ctx)
	if err != nil {
		return nil, err
	}

	provider, ok := n.(interface {
		Conn(ctx context.Context) (net.Conn, error)
	})
	if !ok {
		return nil, errors.ErrNoConn
	}

	return provider.Conn(ctx)
}

// Close ends the relay session. Once the session key is established this is a hand-off and the
// session resolves successfully, before that the session fails with ErrTransportClosed
func (w *Wormhole) Close() {
	w.handoffOnce.Do(func() {
		close(w.handoff)
	})
}

func newWormhole(withCode bool) *Wormhole {
	w := &Wormhole{
		Done:       newFuture[struct{}](),
		negotiator: newFuture[Negotiator](),
		handoff:    make(chan struct{}),
	}

	if withCode {
		w.Code = newFuture[string]()
	}

	return w
}

type state int

const (
	stateConnecting state = iota
	stateAwaitingSlot
	stateAwaitingPakeResponse
	stateAwaitingInit
	stateAwaitingPakeFinal
	stateEstablished
	stateFailed
	stateDone
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitingSlot:
		return "awaiting-slot"
	case stateAwaitingPakeResponse:
		return "awaiting-pake-response"
	case stateAwaitingInit:
		return "awaiting-init"
	case stateAwaitingPakeFinal:
		return "awaiting-pake-final"
	case stateEstablished:
		return "established"
	case stateFailed:
		return "failed"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s state) terminal() bool {
	return s == stateFailed || s == stateDone
}

// handler reacts to relay events for one side of the exchange
type handler interface {
	onOpen(ctx context.Context)
	onMessage(ctx context.Context, msg string)
}

// session is the state shared by both sides. Everything but the candidate callback runs on the
// goroutine executing run
type session struct {
	w      *Wormhole
	cfg    *config
	conn   *client.Conn
	crypto Crypto
	logger logr.Logger

	state      state
	secret     []byte
	key        []byte
	negotiator Negotiator

	// finished lets the candidate callback see terminal states without touching state
	finished atomic.Bool
}

func newSession(w *Wormhole, cfg *config, role string) *session {
	return &session{
		w:      w,
		cfg:    cfg,
		crypto: cfg.newCrypto(),
		logger: cfg.logger.WithValues("role", role),
	}
}

// run consumes relay events in order until the connection is gone. Cancelling ctx fails the
// session and closes the relay connection
func (s *session) run(ctx context.Context, h handler) {
	done := ctx.Done()
	handoff := s.w.handoff
	events := s.conn.Events()

	for {
		select {
		case <-done:
			done = nil
			s.fail(ctx.Err())
		case <-handoff:
			handoff = nil
			s.handOff()
		case ev, ok := <-events:
			if !ok {
				s.fail(errors.ErrTransportClosed)
				return
			}

			// A settled session ignores whatever the relay still delivers
			if s.state.terminal() {
				continue
			}

			s.dispatch(ctx, h, ev)
		}
	}
}

func (s *session) dispatch(ctx context.Context, h handler, ev client.Event) {
	switch ev.Type {
	case client.EventOpen:
		s.logger.V(1).Info("Relay session established", "endpoint", s.conn.Endpoint())
		h.onOpen(ctx)
	case client.EventMessage:
		h.onMessage(ctx, ev.Data)
	case client.EventError:
		s.fail(errors.Wrap(errors.ErrSignalingConnection, ev.Err))
	case client.EventClose:
		s.closed(ev.Code, ev.Reason)
	}
}

// closed settles the session from the close code of the relay
func (s *session) closed(code int, reason string) {
	err := closeOutcome(code, reason)
	if err != nil {
		s.fail(err)
		return
	}

	s.logger.V(1).Info("Relay session closed", "code", code, "reason", reason)
	s.finish()
}

// closeOutcome maps a websocket close code to the session result, nil meaning success
func closeOutcome(code int, reason string) error {
	switch code {
	case types.CloseNoSuchSlot:
		return errors.ErrNoSuchSlot
	case types.CloseSlotTimedOut:
		return errors.ErrRelayTimeout
	case types.CloseNoMoreSlots:
		return errors.ErrSlotUnavailable
	case types.CloseWrongProto:
		return errors.ErrVersionMismatch
	case types.ClosePeerHungUp, types.CloseGoingAway:
		// Browsers may drop the relay once the direct transport is up, which is not a failure
		return nil
	default:
		return &errors.CloseError{Code: code, Reason: reason}
	}
}

func (s *session) handOff() {
	if s.state.terminal() {
		return
	}

	if s.state != stateEstablished {
		s.fail(errors.ErrTransportClosed)
		return
	}

	s.logger.V(1).Info("Handing off relay session")
	s.finish()
	_ = s.conn.Close(int(websocket.StatusNormalClosure), "handed off")
}

// finish resolves the session successfully
func (s *session) finish() {
	if s.state.terminal() {
		return
	}

	s.state = stateDone
	s.finished.Store(true)
	s.wipeSecret()

	if s.w.Code != nil {
		s.w.Code.reject(errors.ErrRelayClosed)
	}
	s.w.negotiator.reject(errors.ErrRelayClosed)
	s.w.Done.resolve(struct{}{})
}

// fail settles every pending handle with err, closes the relay connection and drops the negotiator
func (s *session) fail(err error) {
	if s.state.terminal() {
		return
	}

	s.logger.V(1).Info("Session failed", "state", s.state.String(), "reason", err.Error())

	s.state = stateFailed
	s.finished.Store(true)
	s.wipeSecret()

	if s.w.Code != nil {
		s.w.Code.reject(err)
	}
	s.w.negotiator.reject(err)
	s.w.Done.reject(err)

	if s.conn != nil {
		_ = s.conn.Close(int(websocket.StatusNormalClosure), "")
	}

	if closer, ok := s.negotiator.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (s *session) wipeSecret() {
	clear(s.secret)
	s.secret = nil
}

func (s *session) newSecret() error {
	s.secret = make([]byte, s.cfg.secretSize)
	if _, err := io.ReadFull(rand.Reader, s.secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	return nil
}

// createNegotiator builds the direct transport from the ICE configuration sent by the relay
func (s *session) createNegotiator(ctx context.Context, init types.InitMessage) error {
	negotiator, err := s.cfg.newNegotiator(ctx, init.ICEServers)
	if err != nil {
		return errors.Wrap(errors.ErrNegotiation, err)
	}

	s.negotiator = negotiator
	s.w.negotiator.resolve(negotiator)

	return nil
}

// establish stores the session key, the secret is not needed anymore
func (s *session) establish(key []byte) {
	s.wipeSecret()
	s.key = key
	s.state = stateEstablished
	s.logger.V(1).Info("Session key established")
}

// relayCandidates seals and sends every local candidate. Once gathering is complete the NAT is
// classified from the local description
func (s *session) relayCandidates(ctx context.Context) {
	s.negotiator.OnICECandidate(func(candidate *webrtc.ICECandidateInit) {
		if s.finished.Load() {
			return
		}

		if candidate == nil {
			s.reportNAT()
			return
		}

		if candidate.Candidate == "" {
			return
		}

		if err := s.sendSealed(ctx, candidate); err != nil {
			s.logger.V(1).Info("Failed to send candidate", "error", err.Error())
			return
		}
		s.logger.V(1).Info("Sent local candidate")
	})
}

func (s *session) reportNAT() {
	local := s.negotiator.LocalDescription()
	if local == nil {
		return
	}

	report := nat.Analyze(local.SDP)
	s.logger.Info("NAT classification", "type", report.Type.String(),
		"candidates", report.Candidates, "host", report.Host, "srflx", report.Srflx)

	if s.cfg.onNATReport != nil {
		s.cfg.onNATReport(report)
	}
}

// send writes msg to the relay. A failed write is only logged, the close event that follows it
// decides the outcome. Candidate callbacks call it from other goroutines, so it reads no session
// state
func (s *session) send(ctx context.Context, msg string) {
	if err := s.conn.Send(ctx, msg); err != nil {
		s.logger.V(1).Info("Failed to write to relay", "error", err.Error())
	}
}

// sendSealed marshals v, seals it under the session key and sends it
func (s *session) sendSealed(ctx context.Context, v any) error {
	var plaintext []byte
	if str, ok := v.(string); ok {
		plaintext = []byte(str)
	} else {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal signal: %w", err)
		}
		plaintext = raw
	}

	sealed, err := s.crypto.Seal(s.key, plaintext)
	if err != nil {
		return fmt.Errorf("seal signal: %w", err)
	}

	s.send(ctx, sealed)
	return nil
}

// signal is any message sealed under the session key, except the bye marker
type signal struct {
	Type             string  `json:"type,omitempty"`
	SDP              string  `json:"sdp,omitempty"`
	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (sig signal) candidate() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        sig.Candidate,
		SDPMid:           sig.SDPMid,
		SDPMLineIndex:    sig.SDPMLineIndex,
		UsernameFragment: sig.UsernameFragment,
	}
}

// openSignal opens a sealed message. A message that does not open makes the session fail after
// telling the peer, an opened bye means the peer could not open ours. ok is false if the session is over
func (s *session) openSignal(ctx context.Context, msg string) (signal, bool) {
	plaintext, err := s.crypto.Open(s.key, msg)
	if err != nil {
		if errBye := s.sendSealed(ctx, byeMessage); errBye != nil {
			s.logger.V(1).Info("Failed to send bye", "error", errBye.Error())
		}
		s.fail(errors.Wrap(errors.ErrAuthentication, err))
		return signal{}, false
	}

	if string(plaintext) == byeMessage {
		s.fail(errors.ErrAuthentication)
		return signal{}, false
	}

	var sig signal
	if errJSON := json.Unmarshal(plaintext, &sig); errJSON != nil {
		s.logger.V(1).Info("Ignoring malformed signal", "error", errJSON.Error())
		return signal{}, true
	}

	return sig, true
}

// addCandidate hands a remote candidate to the negotiator
func (s *session) addCandidate(sig signal) {
	if err := s.negotiator.AddICECandidate(sig.candidate()); err != nil {
		s.fail(errors.Wrap(errors.ErrNegotiation, err))
		return
	}
	s.logger.V(1).Info("Got remote candidate")
}

func parseInit(msg string) (types.InitMessage, error) {
	var init types.InitMessage
	if err := json.Unmarshal([]byte(msg), &init); err != nil {
		return init, fmt.Errorf("parse relay init message: %w", err)
	}
	return init, nil
}
