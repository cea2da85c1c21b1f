// Package cmd is the openclaw CLI: the gateway daemon plus the operator
// commands that talk to it or to the on-disk state.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/openclaw/openclaw/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// Exit codes: 0 ok, 1 runtime failure, 2 misconfiguration.
const exitMisconfigured = 2

var rootCmd = &cobra.Command{
	Use:   "openclaw",
	Short: "OpenClaw — multi-channel agent gateway",
	Long:  "OpenClaw routes messaging channels (Telegram, Discord, Feishu, Zalo, webchat) through an agent runtime behind a WebSocket RPC gateway.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
	},
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

// printBanner runs before every command unless OPENCLAW_HIDE_BANNER is set.
// It writes to stderr so JSON-output commands keep stdout parseable.
func printBanner() {
	if os.Getenv("OPENCLAW_HIDE_BANNER") != "" {
		return
	}
	fmt.Fprintf(os.Stderr, "openclaw %s\n", Version)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $OPENCLAW_STATE_DIR/openclaw.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(secretsCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("openclaw %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath()
}

// setupLogging installs the process slog handler. JSON-output commands pass
// quiet to keep stdout parseable.
func setupLogging(quiet bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads and migrates the config, logging any migration notes.
func loadConfig() (*config.Config, error) {
	cfg, notes, err := config.LoadAndMigrate(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	for _, note := range notes {
		slog.Info("config migrated", "change", note)
	}
	return cfg, nil
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
