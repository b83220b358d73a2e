package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flocklabs/flock/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time node setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfg := config.Default()

	nodeID := cfg.NodeID
	topology := string(cfg.Topology)
	backend := string(cfg.DBBackend)
	a2aPort := strconv.Itoa(cfg.A2APort)
	gatewayPort := strconv.Itoa(cfg.Gateway.Port)
	gatewayToken := ""
	agentIDs := "sysadmin"
	dataDir := cfg.DataDir

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Node ID").
				Description("Unique name for this node in the flock").
				Value(&nodeID).
				Validate(notEmpty("node id")),
			huh.NewSelect[string]().
				Title("Topology").
				Options(
					huh.NewOption("Peer (agents live where created)", string(config.TopologyPeer)),
					huh.NewOption("Central (sessions co-located on one host)", string(config.TopologyCentral)),
				).
				Value(&topology),
			huh.NewSelect[string]().
				Title("Persistence backend").
				Options(
					huh.NewOption("SQLite (single file, recommended)", string(config.DBSQLite)),
					huh.NewOption("Postgres (set FLOCK_POSTGRES_DSN)", string(config.DBPostgres)),
					huh.NewOption("Memory (testing only)", string(config.DBMemory)),
				).
				Value(&backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Value(&dataDir).
				Validate(notEmpty("data dir")),
			huh.NewInput().
				Title("A2A port").
				Value(&a2aPort).
				Validate(validPort),
			huh.NewInput().
				Title("Gateway port").
				Value(&gatewayPort).
				Validate(validPort),
			huh.NewInput().
				Title("Gateway token").
				Description("Leave empty to allow unauthenticated local access").
				Value(&gatewayToken),
			huh.NewInput().
				Title("Agents").
				Description("Comma-separated agent ids to host on this node").
				Value(&agentIDs),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.NodeID = nodeID
	cfg.Topology = config.Topology(topology)
	cfg.DBBackend = config.DBBackend(backend)
	cfg.DataDir = dataDir
	cfg.A2APort, _ = strconv.Atoi(a2aPort)
	cfg.Gateway.Port, _ = strconv.Atoi(gatewayPort)
	cfg.Gateway.Token = gatewayToken
	for _, id := range strings.Split(agentIDs, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		spec := config.AgentSpec{ID: id}
		if id == "sysadmin" {
			spec.Role = "sysadmin"
		}
		cfg.GatewayAgents = append(cfg.GatewayAgents, spec)
	}

	path := config.ResolvePath(cfgFile)
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Config written to %s\n", path)
	fmt.Println("Set FLOCK_ANTHROPIC_API_KEY in the environment, then run: flock")
	return nil
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validPort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q", s)
	}
	return nil
}
