package rtc

import (
	"time"

	"github.com/go-logr/logr"
)

const (
	// Writes block while more than this many bytes wait in the data channel send buffer
	defaultBufferThreshold = 512 << 10
	// Upper bound for draining the send buffer on close
	defaultDrainTimeout = 10 * time.Second
)

type config struct {
	bufferThreshold uint64
	drainTimeout    time.Duration
	loopback        bool
	logger          logr.Logger
}

func newDefaultConfig() *config {
	return &config{
		bufferThreshold: defaultBufferThreshold,
		drainTimeout:    defaultDrainTimeout,
		logger:          logr.Discard(),
	}
}

type Option func(*config)

// WithBufferThreshold sets the send buffer size above which writes wait for the peer to catch up
func WithBufferThreshold(threshold uint64) Option {
	return func(cfg *config) {
		cfg.bufferThreshold = threshold
	}
}

// WithDrainTimeout bounds how long closing a connection waits for buffered data to be sent
func WithDrainTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.drainTimeout = timeout
	}
}

// WithLoopbackCandidates gathers candidates on loopback interfaces too. Useful when both peers run
// on the same host
func WithLoopbackCandidates(enabled bool) Option {
	return func(cfg *config) {
		cfg.loopback = enabled
	}
}

// WithLogger sets the logger to use for logging. The logger must implement the logr.Logger interface
func WithLogger(logger logr.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}
