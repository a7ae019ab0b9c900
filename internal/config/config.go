// Package config loads and persists the agent's JSON configuration file:
// rendezvous endpoint, relay endpoint, and the persisted AgentIdentity
// UUID. Adapted from the teacher's internal/config/config.go Load/defaults
// idiom, swapped from that package's custom key=value file format to
// encoding/json because the wire-level spec names a JSON document
// explicitly (unlike the teacher's auth.config format, which this agent
// has no use for).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deskagent/deskagent/internal/identity"
)

// Endpoint is a host/port pair as it appears in the config file. Host may
// be a raw IPv4 address, a hostname, or something URL-shaped; see
// ResolveIPv4 for how the agent turns it into a dialable address.
type Endpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Config is the on-disk JSON document shape from spec §6.
type Config struct {
	Server Endpoint `json:"server"`
	Relay  Endpoint `json:"relay"`
	UUID   string   `json:"uuid"`
}

const (
	DefaultIP         = "127.0.0.1"
	DefaultServerPort = 21116
	DefaultRelayPort  = 21117
)

func defaults() Config {
	return Config{
		Server: Endpoint{IP: DefaultIP, Port: DefaultServerPort},
		Relay:  Endpoint{IP: DefaultIP, Port: DefaultRelayPort},
		UUID:   identity.New(),
	}
}

// Load reads the JSON config file at path. A missing file, a file that
// fails to parse as a JSON object, or an absent/malformed uuid are all
// recovered by falling back to defaults and rewriting the corrected file
// to path — mirroring the original DeskServer.cpp loadConfig behaviour
// exactly (fresh UUID, default endpoints, persisted immediately).
func Load(path string) (*Config, error) {
	cfg, rewrite := loadOrDefault(path)

	if !identity.Valid(cfg.UUID) {
		cfg.UUID = identity.New()
		rewrite = true
	}

	if rewrite {
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("config: persist corrected config: %w", err)
		}
	}

	return &cfg, nil
}

func loadOrDefault(path string) (Config, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults(), true
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return defaults(), true
	}

	patched := false
	if cfg.Server.IP == "" || cfg.Server.Port <= 0 {
		cfg.Server = Endpoint{IP: DefaultIP, Port: DefaultServerPort}
		patched = true
	}
	if cfg.Relay.IP == "" || cfg.Relay.Port <= 0 {
		cfg.Relay = Endpoint{IP: DefaultIP, Port: DefaultRelayPort}
		patched = true
	}
	return cfg, patched
}

// Save writes cfg to path as indented JSON, creating parent directories
// as needed.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
