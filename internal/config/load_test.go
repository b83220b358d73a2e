package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "local" || cfg.DBBackend != DBMemory || cfg.Topology != TopologyPeer {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.A2APort != 7717 || cfg.Gateway.Port != 7718 {
		t.Errorf("ports = %d/%d", cfg.A2APort, cfg.Gateway.Port)
	}
}

func TestLoad_JSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flock.json")
	// Comments and trailing commas are accepted.
	content := `{
		// node identity
		"nodeId": "node-a",
		"dbBackend": "sqlite",
		"topology": "central",
		"a2aPort": 9000,
		"gatewayAgents": [
			{"id": "ada", "role": "worker"},
			{"id": "sysadmin", "role": "sysadmin"},
		],
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "node-a" || cfg.DBBackend != DBSQLite || cfg.Topology != TopologyCentral {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.A2APort != 9000 {
		t.Errorf("a2aPort = %d", cfg.A2APort)
	}
	if len(cfg.GatewayAgents) != 2 || cfg.GatewayAgents[1].Role != "sysadmin" {
		t.Errorf("agents = %+v", cfg.GatewayAgents)
	}
	// File values leave unset fields at their defaults.
	if cfg.A2ABasePath != "/flock" {
		t.Errorf("basePath = %q", cfg.A2ABasePath)
	}
}

func TestLoad_MalformedFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flock.json")
	if err := os.WriteFile(path, []byte("{not json at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "local" || cfg.DBBackend != DBMemory {
		t.Errorf("fallback cfg = %+v", cfg)
	}
}

func TestLoad_BadEnumValuesNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flock.json")
	content := `{"dbBackend": "oracle", "topology": "mesh", "scheduler": {"awakeIntervalSec": -5}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBBackend != DBMemory || cfg.Topology != TopologyPeer {
		t.Errorf("normalized = %s/%s", cfg.DBBackend, cfg.Topology)
	}
	if cfg.Scheduler.AwakeIntervalSec != 60 {
		t.Errorf("awake interval = %d", cfg.Scheduler.AwakeIntervalSec)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flock.json")
	if err := os.WriteFile(path, []byte(`{"nodeId": "from-file", "a2aPort": 9000}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOCK_NODE_ID", "from-env")
	t.Setenv("FLOCK_A2A_PORT", "9100")
	t.Setenv("FLOCK_DB_BACKEND", "postgres")
	t.Setenv("FLOCK_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("FLOCK_TOPOLOGY", "starfish")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "from-env" || cfg.A2APort != 9100 {
		t.Errorf("env overlay = %s/%d", cfg.NodeID, cfg.A2APort)
	}
	if cfg.DBBackend != DBPostgres {
		t.Errorf("backend = %s", cfg.DBBackend)
	}
	if cfg.AnthropicAPIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.AnthropicAPIKey)
	}
	// Invalid env enum falls back rather than sticking.
	if cfg.Topology != TopologyPeer {
		t.Errorf("topology = %s", cfg.Topology)
	}
}

func TestSave_NeverPersistsAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "flock.json")
	cfg := Default()
	cfg.AnthropicAPIKey = "sk-secret"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty config written")
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("api key leaked into the config file")
	}
}

func TestFromMap(t *testing.T) {
	cfg := FromMap(map[string]interface{}{
		"nodeId":    "embedded",
		"dbBackend": "sqlite",
	})
	if cfg.NodeID != "embedded" || cfg.DBBackend != DBSQLite {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestResolveRole(t *testing.T) {
	cfg := Default()
	cfg.OrchestratorIDs = []string{"lead"}

	tests := []struct {
		spec AgentSpec
		want string
	}{
		{AgentSpec{ID: "lead", Role: "worker"}, "orchestrator"},
		{AgentSpec{ID: "sysadmin", Role: "sysadmin"}, "sysadmin"},
		{AgentSpec{ID: "ada"}, "worker"},
	}
	for _, tt := range tests {
		if got := cfg.ResolveRole(tt.spec); got != tt.want {
			t.Errorf("ResolveRole(%s) = %q, want %q", tt.spec.ID, got, tt.want)
		}
	}
}
