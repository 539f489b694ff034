package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/depsdash/depsdash/internal/config"
)

// statusService mirrors the gateway's service listing payload.
type statusService struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	HealthEndpoint      string `json:"health_endpoint"`
	IsActive            bool   `json:"is_active"`
	LastPollSuccess     *bool  `json:"last_poll_success"`
	LastPollError       string `json:"last_poll_error"`
	Tracked             bool   `json:"tracked"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service polling status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s:%d/api/services", cfg.Gateway.Host, cfg.Gateway.Port)
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("gateway unreachable at %s (is depsdash serving?): %w", url, err)
			}
			defer resp.Body.Close()

			var services []statusService
			if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
				return fmt.Errorf("failed to decode gateway response: %w", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(services, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Println("Depsdash Status")
			fmt.Println("───────────────────────────────────────")
			fmt.Printf("Gateway: http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
			fmt.Println()

			if len(services) == 0 {
				fmt.Println("No services registered")
				return nil
			}
			for _, svc := range services {
				marker := "○"
				detail := "never polled"
				switch {
				case svc.LastPollSuccess != nil && *svc.LastPollSuccess:
					marker = "✓"
					detail = "healthy"
				case svc.LastPollSuccess != nil:
					marker = "✗"
					detail = svc.LastPollError
					if svc.ConsecutiveFailures > 1 {
						detail = fmt.Sprintf("%s (x%d)", detail, svc.ConsecutiveFailures)
					}
				}
				if !svc.Tracked {
					detail += " [not tracked]"
				}
				fmt.Printf("  %s %s: %s\n", marker, svc.Name, detail)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
