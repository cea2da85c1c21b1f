package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/cron"
	"github.com/openclaw/openclaw/pkg/protocol"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled agent jobs",
	}
	cmd.AddCommand(cronListCmd(), cronAddCmd(), cronRemoveCmd(), cronEnableCmd(true), cronEnableCmd(false), cronRunCmd())
	return cmd
}

func openJobStore() *cron.JobStore {
	store, err := cron.NewJobStore(config.CronStorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "cron store open failed: %v\n", err)
		os.Exit(1)
	}
	return store
}

func cronListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cron jobs",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			jobs := openJobStore().List()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(map[string]any{"jobs": jobs})
				return
			}
			if len(jobs) == 0 {
				fmt.Println("no cron jobs")
				return
			}
			for _, job := range jobs {
				state := "disabled"
				if job.Enabled {
					state = "enabled"
				}
				last := "never run"
				if job.State.LastRunAtMs > 0 {
					last = fmt.Sprintf("last %s (%s)",
						time.UnixMilli(job.State.LastRunAtMs).Format("2006-01-02 15:04"),
						job.State.LastStatus)
				}
				fmt.Printf("%-24s %-16s %-9s %s\n", job.ID, job.Schedule, state, last)
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable output")
	return cmd
}

func cronAddCmd() *cobra.Command {
	var (
		id       string
		name     string
		schedule string
		message  string
		model    string
		channel  string
		to       string
		deliver  bool
		agentID  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a cron job",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			if id == "" {
				id = uuid.NewString()[:8]
			}
			job := cron.Job{
				ID:       id,
				Name:     name,
				Schedule: schedule,
				AgentID:  agentID,
				Enabled:  true,
				Payload: cron.Payload{
					Message: message,
					Model:   model,
					Channel: channel,
					To:      to,
					Deliver: deliver,
				},
			}
			if err := openJobStore().Upsert(job); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("job %s saved (%s)\n", id, schedule)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id (generated when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "human-readable name")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression, e.g. '0 9 * * *'")
	cmd.Flags().StringVar(&message, "message", "", "message the agent receives each run")
	cmd.Flags().StringVar(&model, "model", "", "model override for this job")
	cmd.Flags().StringVar(&channel, "channel", "", "delivery channel")
	cmd.Flags().StringVar(&to, "to", "", "delivery target")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "deliver the reply to the channel target")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default agent when omitted)")
	_ = cmd.MarkFlagRequired("schedule")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a cron job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			if err := openJobStore().Delete(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("job %s removed\n", args[0])
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	verb, short := "enable", "Enable a cron job"
	if !enable {
		verb, short = "disable", "Disable a cron job"
	}
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging(true)
			store := openJobStore()
			job := store.Get(args[0])
			if job == nil {
				fmt.Fprintf(os.Stderr, "no such job %q\n", args[0])
				os.Exit(1)
			}
			job.Enabled = enable
			if err := store.Upsert(*job); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("job %s %sd\n", job.ID, verb)
		},
	}
}

// cronRunCmd triggers a job through the running gateway so the run uses the
// gateway's providers and session store.
func cronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a cron job now",
		Args:  cobra.ExactArgs(1),
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

			if err := client.Call(context.Background(), protocol.MethodCronRun,
				map[string]string{"id": args[0]}, nil); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("job %s ran\n", args[0])
		},
	}
}
