package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local node's agent directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Second}

			healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Gateway.Port)
			resp, err := client.Get(healthURL)
			if err != nil {
				return fmt.Errorf("node not reachable at %s: %w", healthURL, err)
			}
			resp.Body.Close()

			dirURL := fmt.Sprintf("http://127.0.0.1:%d%s/.well-known/agent-card.json", cfg.A2APort, cfg.A2ABasePath)
			resp, err = client.Get(dirURL)
			if err != nil {
				return fmt.Errorf("directory fetch: %w", err)
			}
			defer resp.Body.Close()

			var dir struct {
				Agents []map[string]any `json:"agents"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
				return fmt.Errorf("decode directory: %w", err)
			}

			fmt.Printf("node %s: %d agent(s)\n", cfg.NodeID, len(dir.Agents))
			for _, a := range dir.Agents {
				id, _ := a["agentId"].(string)
				role := ""
				if flock, ok := a["flock"].(map[string]any); ok {
					role, _ = flock["role"].(string)
				}
				fmt.Printf("  %-20s %s\n", id, role)
			}
			return nil
		},
	}
}
