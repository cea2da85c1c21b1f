package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/secrets"
)

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Move plaintext secrets out of the config file",
	}
	cmd.AddCommand(secretsApplyCmd())
	return cmd
}

func secretsApplyCmd() *cobra.Command {
	var (
		planPath string
		write    bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a secrets plan (dry-run unless --write)",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(asJSON)
			plan, err := secrets.LoadPlan(planPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "plan load failed: %v\n", err)
				os.Exit(exitMisconfigured)
			}

			envPath := filepath.Join(config.StateDir(), ".env")
			result, err := secrets.Apply(resolveConfigPath(), envPath, plan, write)
			if err != nil {
				fmt.Fprintf(os.Stderr, "apply failed: %v\n", err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(result)
				return
			}

			mode := "dry-run"
			if write {
				mode = "applied"
			}
			fmt.Printf("%s: %d replaced, %d already applied, %d env keys scrubbed\n",
				mode, result.Replaced, result.AlreadyApplied, result.ScrubbedEnvKeys)
			if !write && result.Replaced > 0 {
				fmt.Println("re-run with --write to persist")
			}
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "path to the secrets plan JSON")
	cmd.Flags().BoolVar(&write, "write", false, "persist changes (default is dry-run)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}
