// Package rtc provides the direct peer-to-peer transport: a WebRTC peer connection carrying a
// single pre-negotiated data channel that is exposed as a net.Conn
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/datachannel"
	"github.com/pion/webrtc/v4"
)

const (
	// Both sides create the channel with the same label and id, so it needs no in-band negotiation
	dataChannelLabel = "data"
	dataChannelID    = 0
)

var (
	ErrPeerClosed        = errors.New("peer connection closed")
	ErrDataChannelFailed = errors.New("data channel could not be opened")
)

// Peer negotiates a direct connection with a remote peer. Session descriptions and candidates are
// exchanged by the caller over its signaling channel
type Peer struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	cfg    *config
	logger logr.Logger

	// Remote candidates that arrive before the remote description are applied once it is set
	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	opened   chan struct{}
	openOnce sync.Once
	rwc      datachannel.ReadWriteCloserDeadliner
	openErr  error

	// low is signalled when the send buffer drains below the threshold
	low chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// NewPeer creates a peer connection using the given ICE servers
func NewPeer(iceServers []webrtc.ICEServer, opts ...Option) (*Peer, error) {
	cfg := newDefaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	// Detaching data channels requires a setting engine
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(cfg.loopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ordered, negotiated := true, true
	id := uint16(dataChannelID)
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &Peer{
		pc:     pc,
		dc:     dc,
		cfg:    cfg,
		logger: cfg.logger,
		opened: make(chan struct{}),
		low:    make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	dc.SetBufferedAmountLowThreshold(cfg.bufferThreshold)
	dc.OnBufferedAmountLow(p.flushed)
	dc.OnOpen(p.open)
	dc.OnClose(func() {
		p.fail(ErrDataChannelFailed)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.V(1).Info("Peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			p.fail(fmt.Errorf("%w: peer connection failed", ErrDataChannelFailed))
		}
	})

	return p, nil
}

// OnICECandidate registers f for every locally gathered candidate. f receives nil once gathering
// is complete
func (p *Peer) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			f(nil)
			return
		}

		init := candidate.ToJSON()
		f(&init)
	})
}

// CreateOffer creates an offer and sets it as the local description
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	return p.setLocal(offer)
}

// CreateAnswer creates an answer to the remote offer and sets it as the local description
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	return p.setLocal(answer)
}

func (p *Peer) setLocal(desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	if local := p.pc.LocalDescription(); local != nil {
		return *local, nil
	}

	return desc, nil
}

// SetRemoteDescription applies the remote description and then every candidate queued before it
func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.remoteSet = true

	pending := p.pending
	p.pending = nil

	for _, candidate := range pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}

	return nil
}

// AddICECandidate adds a remote candidate, or queues it while the remote description is missing
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		return nil
	}

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}

	return nil
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

// Conn waits for the data channel to open and returns it as a stream connection
func (p *Peer) Conn(ctx context.Context) (net.Conn, error) {
	select {
	case <-p.opened:
	case <-p.closed:
		return nil, ErrPeerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.openErr != nil {
		return nil, p.openErr
	}

	return newDataConn(p, p.rwc), nil
}

// Close tears down the data channel and the peer connection
func (p *Peer) Close() error {
	var err error

	p.closeOnce.Do(func() {
		close(p.closed)
		p.fail(ErrPeerClosed)

		if p.rwc != nil {
			_ = p.rwc.Close()
		}
		_ = p.dc.Close()
		err = p.pc.Close()
	})

	return err
}

func (p *Peer) open() {
	rwc, err := p.dc.DetachWithDeadline()

	p.openOnce.Do(func() {
		if err != nil {
			p.openErr = fmt.Errorf("%w: detach: %w", ErrDataChannelFailed, err)
		} else {
			p.rwc = rwc
		}
		close(p.opened)
	})

	p.logger.V(1).Info("Data channel open", "label", p.dc.Label())
}

// fail resolves a pending Conn call with err. It does nothing once the channel has opened
func (p *Peer) fail(err error) {
	p.openOnce.Do(func() {
		p.openErr = err
		close(p.opened)
	})
}

func (p *Peer) flushed() {
	select {
	case p.low <- struct{}{}:
	default:
	}
}
