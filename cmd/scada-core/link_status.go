package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var linkStatusCmd = &cobra.Command{
	Use:   "link-status",
	Short: "Query a running scada-core process's /ready endpoint and print per-link state",
	RunE:  runLinkStatus,
}

func init() {
	linkStatusCmd.Flags().String("addr", "localhost:9090", "host:port of the running process's metrics/health server")
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

func runLinkStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/ready", addr))
	if err != nil {
		return fmt.Errorf("query %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var ready readyResponse
	if err := json.Unmarshal(body, &ready); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("overall: %s\n", ready.Status)
	if ready.Message != "" {
		fmt.Printf("  %s\n", ready.Message)
	}
	for link, state := range ready.Checks {
		fmt.Printf("  %-20s %s\n", link, state)
	}
	return nil
}
