package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <service-id>",
		Short: "Trigger an immediate poll of one service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s:%d/api/services/%s/poll", cfg.Gateway.Host, cfg.Gateway.Port, args[0])
			client := &http.Client{Timeout: 60 * time.Second}
			resp, err := client.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("gateway unreachable at %s (is depsdash serving?): %w", url, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("service %q not found", args[0])
			}

			var result struct {
				ServiceName         string `json:"service_name"`
				Success             bool   `json:"success"`
				DependenciesUpdated int    `json:"dependencies_updated"`
				Error               string `json:"error"`
				LatencyMS           int64  `json:"latency_ms"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("failed to decode gateway response: %w", err)
			}

			if result.Success {
				fmt.Printf("✓ %s polled: %d dependencies updated in %dms\n",
					result.ServiceName, result.DependenciesUpdated, result.LatencyMS)
				return nil
			}
			return fmt.Errorf("poll failed: %s", result.Error)
		},
	}
}
