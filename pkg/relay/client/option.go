package client

import (
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

const (
	defaultDialTimeout = 10 * time.Second
	// Sealed session descriptions carry every gathered candidate, so allow well above the
	// websocket library default
	defaultReadLimit = 1 << 20
	eventBuffer      = 16
)

type config struct {
	dialTimeout time.Duration
	readLimit   int64
	httpClient  *http.Client
	logger      logr.Logger
}

func newDefaultConfig() *config {
	return &config{
		dialTimeout: defaultDialTimeout,
		readLimit:   defaultReadLimit,
		logger:      logr.Discard(),
	}
}

type Option func(*config)

// WithDialTimeout bounds the websocket handshake with the relay. The timeout must be greater than 0
func WithDialTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.dialTimeout = timeout
	}
}

// WithReadLimit sets the maximum size in bytes of a single relay message
func WithReadLimit(limit int64) Option {
	return func(cfg *config) {
		cfg.readLimit = limit
	}
}

// WithHTTPClient sets the HTTP client used for the websocket handshake
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *config) {
		cfg.httpClient = client
	}
}

// WithLogger sets the logger to use for logging. The logger must implement the logr.Logger interface
func WithLogger(logger logr.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}
