package activeproxy

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/activeproxy/internal/node"
)

// Config is the configuration surface enumerated in spec §6, loaded from
// YAML the way dep2p-go-dep2p loads its own configuration.
type Config struct {
	// ServerPeerID is the server's node id, used both for sealed crypto
	// and for resolving its host via the surrounding node's resolver.
	ServerPeerID HexBytes `yaml:"serverPeerId"`

	// UpstreamHost and UpstreamPort name the local service to relay to.
	UpstreamHost string `yaml:"upstreamHost"`
	UpstreamPort uint16 `yaml:"upstreamPort"`

	// PeerPrivateKey is a 32-byte ed25519 seed for the keypair the
	// published peer record is signed under, distinct from the node's
	// own identity key. If absent, the pool generates one at startup.
	PeerPrivateKey HexBytes `yaml:"peerPrivateKey,omitempty"`

	// DomainName is advertised to the server; honoured only if the
	// server's AUTH|ACK reports domain_enabled.
	DomainName string `yaml:"domainName,omitempty"`

	// MaxConnections caps concurrent sessions; defaults to 8.
	MaxConnections int `yaml:"maxConnections,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty"`
}

// HexBytes is a byte slice that (de)serializes from YAML as a hex string,
// matching how node/peer identifiers are conventionally represented in
// config files for systems of this kind.
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("config: invalid hex string: %w", err)
	}
	*h = b
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(h), nil
}

const defaultMaxConnections = 8

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
}

// Validate checks required fields, matching the Configuration error class
// from the error handling design: missing required field / unresolvable
// host are fatal at initialization.
func (c *Config) Validate() error {
	if len(c.ServerPeerID) != 32 {
		return fmt.Errorf("config: serverPeerId must be a 32-byte node id, got %d bytes", len(c.ServerPeerID))
	}
	if c.UpstreamHost == "" {
		return fmt.Errorf("config: upstreamHost is required")
	}
	if c.UpstreamPort == 0 {
		return fmt.Errorf("config: upstreamPort is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: maxConnections must be positive")
	}
	return nil
}

// serverNodeID returns the parsed 32-byte server node id.
func (c *Config) serverNodeID() (NodeID, error) {
	var id NodeID
	if len(c.ServerPeerID) != 32 {
		return id, fmt.Errorf("config: serverPeerId must be 32 bytes")
	}
	copy(id[:], c.ServerPeerID)
	return id, nil
}

// peerKeyPair derives the keypair the published peer record is signed
// under: parsed from PeerPrivateKey if configured, otherwise freshly
// generated.
func (c *Config) peerKeyPair() (PeerKeyPair, error) {
	if len(c.PeerPrivateKey) == 0 {
		return node.GeneratePeerKeyPair()
	}
	return node.PeerKeyPairFromSeed(c.PeerPrivateKey)
}
