package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/grail/internal/config"
)

// newHealthCmd creates the 'health' subcommand, which probes a running
// daemon and prints its /health document.
func newHealthCmd(cfgFile *string) *cobra.Command {
	var (
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				cfg, err := config.Load(*cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				target = "http://" + cfg.Server.Addr()
			}
			return probeHealth(cmd, strings.TrimRight(target, "/")+"/health", timeout)
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "daemon base URL (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func probeHealth(cmd *cobra.Command, url string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon unhealthy: %s", resp.Status)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	pretty.WriteByte('\n')
	if _, err := cmd.OutOrStdout().Write(pretty.Bytes()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
