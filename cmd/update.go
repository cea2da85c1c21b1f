package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/upgrade"
)

func updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for gateway updates",
	}
	cmd.AddCommand(updateStatusCmd())
	return cmd
}

func updateStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a newer release exists",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(asJSON)
			checker := upgrade.NewChecker(config.StateDir())
			status, err := checker.Check(context.Background(), Version)
			if err != nil {
				fmt.Fprintf(os.Stderr, "update check failed: %v\n", err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(status)
				return
			}

			if status.LatestVersion == "" {
				fmt.Printf("openclaw %s (no release information)\n", status.CurrentVersion)
				return
			}
			if status.UpdateAvailable {
				fmt.Printf("update available: %s → %s\n", status.CurrentVersion, status.LatestVersion)
				if status.ReleaseURL != "" {
					fmt.Println(status.ReleaseURL)
				}
			} else {
				fmt.Printf("openclaw %s is up to date\n", status.CurrentVersion)
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	return cmd
}
