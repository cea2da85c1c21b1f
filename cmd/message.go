package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/pkg/protocol"
)

func messageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send messages through the gateway",
	}
	cmd.AddCommand(messageSendCmd())
	return cmd
}

func messageSendCmd() *cobra.Command {
	var (
		channel  string
		to       string
		threadID string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message to a channel conversation",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(asJSON)
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

			var result struct {
				Status string `json:"status"`
			}
			err = client.Call(context.Background(), protocol.MethodChatSend, map[string]any{
				"channel":  channel,
				"to":       to,
				"text":     args[0],
				"threadId": threadID,
			}, &result)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			if asJSON {
				_ = json.NewEncoder(os.Stdout).Encode(result)
			} else {
				fmt.Printf("%s → %s:%s\n", result.Status, channel, to)
			}
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel id (telegram, discord, ...)")
	cmd.Flags().StringVar(&to, "to", "", "conversation target")
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id within the conversation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
