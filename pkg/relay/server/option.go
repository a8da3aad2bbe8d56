package server

import (
	"math/rand/v2"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v4"
)

const (
	defaultSlotTimeout = 30 * time.Minute
	defaultMaxSlots    = 1 << 12
	// Number of random slots tried before the relay gives up with "no more slots"
	allocAttempts = 64
)

type config struct {
	slotTimeout time.Duration
	maxSlots    int
	iceServers  []webrtc.ICEServer
	slotGen     func(n int) int
	metrics     bool
	logger      logr.Logger
}

func newDefaultConfig() *config {
	return &config{
		slotTimeout: defaultSlotTimeout,
		maxSlots:    defaultMaxSlots,
		slotGen:     rand.IntN,
		logger:      logr.Discard(),
	}
}

type Option func(*config)

// WithSlotTimeout sets how long a slot waits for its second peer. The timeout must be greater than 0
func WithSlotTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.slotTimeout = timeout
	}
}

// WithMaxSlots bounds slot numbers to [0, n). Smaller ranges give shorter codes
func WithMaxSlots(n int) Option {
	return func(cfg *config) {
		cfg.maxSlots = n
	}
}

// WithICEServers sets the ICE servers announced to both peers of every slot
func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(cfg *config) {
		cfg.iceServers = servers
	}
}

// WithSlotGenerator replaces the random slot picker. gen receives the slot range and must return
// a value in [0, n)
func WithSlotGenerator(gen func(n int) int) Option {
	return func(cfg *config) {
		cfg.slotGen = gen
	}
}

// WithMetrics exposes prometheus metrics under /metrics
func WithMetrics(enabled bool) Option {
	return func(cfg *config) {
		cfg.metrics = enabled
	}
}

// WithLogger sets the logger to use for logging. The logger must implement the logr.Logger interface
func WithLogger(logger logr.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}
