package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pion/webrtc/v4"
)

const (
	DefaultListenAddr  = "0.0.0.0:8080"
	DefaultSlotTimeout = 30 * time.Minute
	DefaultMaxSlots    = 4096
)

// DefaultSTUNServers are used by the nat command and advertised by relays without configuration
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

type ICEServer struct {
	URLs       []string `toml:"urls"`
	Username   string   `toml:"username"`
	Credential string   `toml:"credential"`
}

// RelayConfig is the configuration file of the relay command
type RelayConfig struct {
	Listen      string      `toml:"listen"`
	SlotTimeout string      `toml:"slot_timeout"`
	MaxSlots    int         `toml:"max_slots"`
	Metrics     bool        `toml:"metrics"`
	ICEServers  []ICEServer `toml:"ice_servers"`

	slotTimeout time.Duration
}

func defaultRelayConfig() *RelayConfig {
	servers := make([]string, 0, len(DefaultSTUNServers))
	for _, s := range DefaultSTUNServers {
		servers = append(servers, "stun:"+s)
	}

	return &RelayConfig{
		Listen:      DefaultListenAddr,
		SlotTimeout: DefaultSlotTimeout.String(),
		MaxSlots:    DefaultMaxSlots,
		ICEServers:  []ICEServer{{URLs: servers}},
		slotTimeout: DefaultSlotTimeout,
	}
}

// LoadRelayConfig reads the TOML file at path on top of the defaults. An empty path gives the defaults
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cfg := defaultRelayConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Servers from the file replace the default ones instead of adding to them
	defaults := cfg.ICEServers
	cfg.ICEServers = nil

	if errDecode := toml.Unmarshal(raw, cfg); errDecode != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, errDecode)
	}

	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaults
	}

	if errValidate := cfg.validate(); errValidate != nil {
		return nil, fmt.Errorf("config %s: %w", path, errValidate)
	}

	return cfg, nil
}

func (c *RelayConfig) validate() error {
	timeout, err := time.ParseDuration(c.SlotTimeout)
	if err != nil {
		return fmt.Errorf("slot_timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("slot_timeout must be positive, got %s", c.SlotTimeout)
	}
	c.slotTimeout = timeout

	if c.MaxSlots <= 0 {
		return fmt.Errorf("max_slots must be positive, got %d", c.MaxSlots)
	}

	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d] has no urls", i)
		}
	}

	return nil
}

// WebRTCICEServers converts the configured servers to the form sent to peers
func (c *RelayConfig) WebRTCICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}
