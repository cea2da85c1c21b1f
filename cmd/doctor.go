package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
)

func doctorCmd() *cobra.Command {
	var fix, asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the config and environment for problems",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(asJSON)
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
				os.Exit(exitMisconfigured)
			}

			var fixed []string
			if fix {
				if fixed, err = config.DoctorFix(cfg); err != nil {
					fmt.Fprintf(os.Stderr, "fix failed: %v\n", err)
					os.Exit(1)
				}
			}
			checks := config.DoctorChecks(cfg)

			if asJSON {
				out := map[string]any{"checks": checks}
				if fix {
					out["fixed"] = fixed
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(out)
			} else {
				for _, c := range checks {
					marker := "ok "
					switch c.Severity {
					case "warn":
						marker = "warn"
					case "error":
						marker = "FAIL"
					}
					fmt.Printf("[%s] %-28s %s\n", marker, c.ID, c.Message)
				}
				for _, change := range fixed {
					fmt.Printf("fixed: %s\n", change)
				}
			}

			if config.DoctorBlocked(checks) {
				os.Exit(exitMisconfigured)
			}
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "apply automatic fixes before checking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	return cmd
}
