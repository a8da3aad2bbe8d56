package wormhole

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v4"

	"github.com/yago-123/wormhole/pkg/nat"
	"github.com/yago-123/wormhole/pkg/pake"
	"github.com/yago-123/wormhole/pkg/relay/client"
	"github.com/yago-123/wormhole/pkg/rtc"
)

const (
	// Size in bytes of the pairing secret, two words of the code
	defaultSecretSize = 2
)

type config struct {
	secretSize    int
	newCrypto     func() Crypto
	newNegotiator NegotiatorFactory
	relayOptions  []client.Option
	rtcOptions    []rtc.Option
	onNATReport   func(nat.Report)
	logger        logr.Logger
}

func newDefaultConfig() *config {
	cfg := &config{
		secretSize: defaultSecretSize,
		newCrypto: func() Crypto {
			return pake.New()
		},
		logger: logr.Discard(),
	}

	cfg.newNegotiator = func(_ context.Context, iceServers []webrtc.ICEServer) (Negotiator, error) {
		peer, err := rtc.NewPeer(iceServers, cfg.rtcOptions...)
		if err != nil {
			return nil, err
		}
		return peer, nil
	}

	return cfg
}

type Option func(*config)

// WithSecretSize sets the pairing secret length in bytes. Each byte adds one word to the code
func WithSecretSize(size int) Option {
	return func(cfg *config) {
		cfg.secretSize = size
	}
}

// WithCrypto replaces the PAKE and sealing implementation. newCrypto is called once per session
func WithCrypto(newCrypto func() Crypto) Option {
	return func(cfg *config) {
		cfg.newCrypto = newCrypto
	}
}

// WithNegotiator replaces the direct transport. The factory is called once the relay sent the ICE
// configuration
func WithNegotiator(factory NegotiatorFactory) Option {
	return func(cfg *config) {
		cfg.newNegotiator = factory
	}
}

// WithRelayOptions passes options to the relay connection
func WithRelayOptions(opts ...client.Option) Option {
	return func(cfg *config) {
		cfg.relayOptions = append(cfg.relayOptions, opts...)
	}
}

// WithRTCOptions passes options to the default WebRTC negotiator
func WithRTCOptions(opts ...rtc.Option) Option {
	return func(cfg *config) {
		cfg.rtcOptions = append(cfg.rtcOptions, opts...)
	}
}

// WithNATReport registers a callback for the NAT classification made when gathering completes
func WithNATReport(f func(nat.Report)) Option {
	return func(cfg *config) {
		cfg.onNATReport = f
	}
}

// WithLogger sets the logger to use for logging. The logger must implement the logr.Logger interface
func WithLogger(logger logr.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}
