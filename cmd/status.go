package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/protocol"
)

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
				os.Exit(exitMisconfigured)
			}

			client, err := dialGateway(cfg)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			defer client.Close()

			var status struct {
				UptimeSeconds int      `json:"uptimeSeconds"`
				Channels      []string `json:"channels"`
				Sessions      int      `json:"sessions"`
				Methods       []string `json:"methods"`
			}
			if err := client.Call(context.Background(), protocol.MethodStatus, nil, &status); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(status)
				return
			}

			printKV("uptime", fmt.Sprintf("%ds", status.UptimeSeconds))
			printKV("sessions", fmt.Sprintf("%d", status.Sessions))
			printKV("channels", strings.Join(status.Channels, ", "))
			printKV("methods", fmt.Sprintf("%d registered", len(status.Methods)))
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	return cmd
}

// printKV writes an aligned key/value row. Width-aware so CJK channel labels
// keep columns straight.
func printKV(key, value string) {
	const col = 14
	pad := col - runewidth.StringWidth(key)
	if pad < 1 {
		pad = 1
	}
	fmt.Printf("%s%s%s\n", key, strings.Repeat(" ", pad), value)
}
