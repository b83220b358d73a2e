// Package config holds the Flock node configuration: where state lives,
// which backend stores it, how the node participates in the topology, and
// which agents it hosts.
package config

import (
	"os"
	"sync"
)

// Topology selects how messages are routed between nodes.
type Topology string

const (
	// TopologyPeer treats every node as equal; agents live where created.
	TopologyPeer Topology = "peer"
	// TopologyCentral co-locates all agent sessions on one host; worker
	// nodes provide sysadmin and resources.
	TopologyCentral Topology = "central"
)

// DBBackend selects the persistence backend.
type DBBackend string

const (
	DBMemory   DBBackend = "memory"
	DBSQLite   DBBackend = "sqlite"
	DBPostgres DBBackend = "postgres"
)

// RemoteNode describes a peer node known at boot.
type RemoteNode struct {
	NodeID      string `json:"nodeId"`
	A2AEndpoint string `json:"a2aEndpoint"`
}

// AgentSpec declares one agent hosted by this node.
type AgentSpec struct {
	ID           string `json:"id"`
	Role         string `json:"role,omitempty"` // worker, sysadmin, orchestrator, system
	Archetype    string `json:"archetype,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// GatewayConfig configures the admin WebSocket gateway.
type GatewayConfig struct {
	Port  int    `json:"port"`
	Token string `json:"token,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener for the A2A
// server, so migration payloads travel the tailnet instead of plain LAN.
type TailscaleConfig struct {
	Hostname string `json:"hostname,omitempty"`
	AuthKey  string `json:"authKey,omitempty"`
	StateDir string `json:"stateDir,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"serviceName,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// SchedulerConfig overrides work-loop cadences. Cron expressions
// (adhocore/gronx syntax) take precedence over interval seconds.
type SchedulerConfig struct {
	AwakeIntervalSec    int    `json:"awakeIntervalSec,omitempty"`
	ReactiveIntervalSec int    `json:"reactiveIntervalSec,omitempty"`
	AwakeCron           string `json:"awakeCron,omitempty"`
	ReactiveCron        string `json:"reactiveCron,omitempty"`
}

// Config is the full node configuration.
type Config struct {
	DataDir         string          `json:"dataDir"`
	DBBackend       DBBackend       `json:"dbBackend"`
	PostgresDSN     string          `json:"postgresDsn,omitempty"`
	Topology        Topology        `json:"topology"`
	NodeID          string          `json:"nodeId"`
	A2ABasePath     string          `json:"a2aBasePath"`
	A2APort         int             `json:"a2aPort"`
	RemoteNodes     []RemoteNode    `json:"remoteNodes,omitempty"`
	GatewayAgents   []AgentSpec     `json:"gatewayAgents,omitempty"`
	OrchestratorIDs []string        `json:"orchestratorIds,omitempty"`
	KnownPeers      []string        `json:"knownPeers,omitempty"` // empty = accept any source node
	Gateway         GatewayConfig   `json:"gateway"`
	VaultsBasePath  string          `json:"vaultsBasePath,omitempty"`
	TmpDir          string          `json:"tmpDir,omitempty"`
	AnthropicAPIKey string          `json:"-"` // env only, never persisted
	Model           string          `json:"model,omitempty"`
	Scheduler       SchedulerConfig `json:"scheduler,omitempty"`
	Tailscale       TailscaleConfig `json:"tailscale,omitempty"`
	Telemetry       TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		DataDir:     ".flock",
		DBBackend:   DBMemory,
		Topology:    TopologyPeer,
		NodeID:      "local",
		A2ABasePath: "/flock",
		A2APort:     7717,
		Gateway: GatewayConfig{
			Port: 7718,
		},
		Model: "claude-sonnet-4-5-20250929",
		Scheduler: SchedulerConfig{
			AwakeIntervalSec:    60,
			ReactiveIntervalSec: 300,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "flock",
		},
	}
}

// AgentDataDir returns the per-agent workspace directory.
func (c *Config) AgentDataDir(agentID string) string {
	return ExpandHome(c.DataDir) + "/agents/" + agentID
}

// IsOrchestrator reports whether the agent is forced into the orchestrator
// role regardless of its declared role.
func (c *Config) IsOrchestrator(agentID string) bool {
	for _, id := range c.OrchestratorIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// ResolveRole returns the effective role for an agent spec: orchestratorIds
// wins, then the declared role, then worker.
func (c *Config) ResolveRole(spec AgentSpec) string {
	if c.IsOrchestrator(spec.ID) {
		return "orchestrator"
	}
	if spec.Role != "" {
		return spec.Role
	}
	return "worker"
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
