package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/overlay/advert"
	"github.com/opd-ai/overlay/limits"
)

// Peer modes.
const (
	ModeEdge       = "edge"
	ModeRendezvous = "rendezvous"
)

// DefaultPeerName is used when no display name is configured.
const DefaultPeerName = "OverlayPeer"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the overlay peer configuration loaded from TOML.
type Config struct {
	Peer      PeerConfig      `toml:"peer"`
	Overlay   OverlayConfig   `toml:"overlay"`
	Messaging MessagingConfig `toml:"messaging"`
}

// PeerConfig holds the local peer identity settings.
type PeerConfig struct {
	Name string `toml:"name"`
	// Mode is "edge" or "rendezvous" at the network level.
	Mode string `toml:"mode"`
	// ListenAddr is where direct channel listeners bind.
	ListenAddr string `toml:"listen_addr"`
	// PrivateKey is an optional hex Curve25519 key; empty generates one.
	PrivateKey string `toml:"private_key"`
}

// OverlayConfig holds membership and advertisement timing.
type OverlayConfig struct {
	RendezvousWait          Duration `toml:"rendezvous_wait"`
	GroupJoinRendezvousWait Duration `toml:"group_join_rendezvous_wait"`
	PollInterval            Duration `toml:"poll_interval"`
	PresenceInterval        Duration `toml:"presence_interval"`
	AdvertisementExpiration Duration `toml:"advertisement_expiration"`
	GroupLifetime           Duration `toml:"group_lifetime"`
}

// MessagingConfig holds direct messaging and anycast settings.
type MessagingConfig struct {
	ReplyTimeout          Duration `toml:"reply_timeout"`
	RetryWait             Duration `toml:"retry_wait"`
	RetryCount            int      `toml:"retry_count"`
	MaxConcurrentHandlers int64    `toml:"max_concurrent_handlers"`
	SecureChannels        bool     `toml:"secure_channels"`
}

// NewDefaultConfig returns a Config populated with default values.
func NewDefaultConfig() Config {
	return Config{
		Peer: PeerConfig{
			Name:       DefaultPeerName,
			Mode:       ModeEdge,
			ListenAddr: "127.0.0.1:0",
		},
		Overlay: OverlayConfig{
			RendezvousWait:          Duration(120 * time.Second),
			GroupJoinRendezvousWait: Duration(60 * time.Second),
			PollInterval:            Duration(time.Second),
			PresenceInterval:        Duration(5 * time.Minute),
			AdvertisementExpiration: Duration(6 * time.Minute),
			GroupLifetime:           Duration(365 * 24 * time.Hour),
		},
		Messaging: MessagingConfig{
			ReplyTimeout:          Duration(60 * time.Second),
			RetryWait:             Duration(5 * time.Second),
			RetryCount:            5,
			MaxConcurrentHandlers: 64,
			SecureChannels:        true,
		},
	}
}

// DefaultConfigPath returns the default location of the config file.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, err2 := os.UserHomeDir()
		if err2 != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "overlay", "config.toml"), nil
}

// Load reads the configuration from path. An empty path uses
// DefaultConfigPath; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	if info, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	} else if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidConfig, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := limits.ValidatePeerName(c.Peer.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if strings.Contains(c.Peer.Name, advert.Delimiter) {
		return fmt.Errorf("%w: peer name contains %q", ErrInvalidConfig, advert.Delimiter)
	}
	if c.Peer.Mode != ModeEdge && c.Peer.Mode != ModeRendezvous {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Peer.Mode)
	}

	positive := map[string]Duration{
		"rendezvous_wait":            c.Overlay.RendezvousWait,
		"group_join_rendezvous_wait": c.Overlay.GroupJoinRendezvousWait,
		"poll_interval":              c.Overlay.PollInterval,
		"presence_interval":          c.Overlay.PresenceInterval,
		"advertisement_expiration":   c.Overlay.AdvertisementExpiration,
		"group_lifetime":             c.Overlay.GroupLifetime,
		"reply_timeout":              c.Messaging.ReplyTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
		}
	}
	if c.Messaging.RetryWait < 0 {
		return fmt.Errorf("%w: retry_wait must not be negative", ErrInvalidConfig)
	}

	if c.Overlay.PresenceInterval >= c.Overlay.AdvertisementExpiration {
		return fmt.Errorf("%w: presence_interval %s must be below advertisement_expiration %s",
			ErrInvalidConfig, c.Overlay.PresenceInterval, c.Overlay.AdvertisementExpiration)
	}
	if c.Messaging.RetryCount < 1 {
		return fmt.Errorf("%w: retry_count must be at least 1", ErrInvalidConfig)
	}
	if c.Messaging.MaxConcurrentHandlers < 1 {
		return fmt.Errorf("%w: max_concurrent_handlers must be at least 1", ErrInvalidConfig)
	}
	return nil
}
