package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// ResolvePath returns the config file path using the documented search
// order: explicit flag value, $FLOCK_CONFIG, ./flock.json, ~/.flock/flock.json.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("FLOCK_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("flock.json"); err == nil {
		return "flock.json"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "flock.json"
	}
	return filepath.Join(home, ".flock", "flock.json")
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults; malformed values fall back to defaults
// rather than failing the boot.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		// Never crash on config: log and run with defaults.
		slog.Warn("config parse failed, using defaults", "path", path, "error", err)
		cfg = Default()
	}

	cfg.normalize()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// FromMap builds a Config from an already-parsed mapping (in-process
// embedding). Unknown keys are ignored; malformed entries keep defaults.
func FromMap(m map[string]interface{}) *Config {
	cfg := Default()
	data, err := json.Marshal(m)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		slog.Warn("config map rejected, using defaults", "error", err)
		return Default()
	}
	cfg.normalize()
	cfg.applyEnvOverrides()
	return cfg
}

// normalize resets out-of-range enum values to their defaults.
func (c *Config) normalize() {
	switch c.DBBackend {
	case DBMemory, DBSQLite, DBPostgres:
	default:
		c.DBBackend = DBMemory
	}
	switch c.Topology {
	case TopologyPeer, TopologyCentral:
	default:
		c.Topology = TopologyPeer
	}
	if c.NodeID == "" {
		c.NodeID = "local"
	}
	if c.DataDir == "" {
		c.DataDir = ".flock"
	}
	if c.A2ABasePath == "" {
		c.A2ABasePath = "/flock"
	}
	if c.Scheduler.AwakeIntervalSec <= 0 {
		c.Scheduler.AwakeIntervalSec = 60
	}
	if c.Scheduler.ReactiveIntervalSec <= 0 {
		c.Scheduler.ReactiveIntervalSec = 300
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("FLOCK_ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	envStr("FLOCK_POSTGRES_DSN", &c.PostgresDSN)
	envStr("FLOCK_NODE_ID", &c.NodeID)
	envStr("FLOCK_DATA_DIR", &c.DataDir)
	envStr("FLOCK_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("FLOCK_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("FLOCK_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("FLOCK_TSNET_DIR", &c.Tailscale.StateDir)
	envStr("FLOCK_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FLOCK_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FLOCK_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	if v := os.Getenv("FLOCK_A2A_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.A2APort = port
		}
	}
	if v := os.Getenv("FLOCK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("FLOCK_DB_BACKEND"); v != "" {
		c.DBBackend = DBBackend(v)
		c.normalizeBackend()
	}
	if v := os.Getenv("FLOCK_TOPOLOGY"); v != "" {
		c.Topology = Topology(v)
		c.normalizeTopology()
	}
	if v := os.Getenv("FLOCK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

func (c *Config) normalizeBackend() {
	switch c.DBBackend {
	case DBMemory, DBSQLite, DBPostgres:
	default:
		c.DBBackend = DBMemory
	}
}

func (c *Config) normalizeTopology() {
	switch c.Topology {
	case TopologyPeer, TopologyCentral:
	default:
		c.Topology = TopologyPeer
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
