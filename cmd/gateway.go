package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/approvals"
	"github.com/openclaw/openclaw/internal/bootstrap"
	"github.com/openclaw/openclaw/internal/bus"
	"github.com/openclaw/openclaw/internal/channels"
	"github.com/openclaw/openclaw/internal/channels/discord"
	"github.com/openclaw/openclaw/internal/channels/feishu"
	"github.com/openclaw/openclaw/internal/channels/telegram"
	"github.com/openclaw/openclaw/internal/channels/webchat"
	"github.com/openclaw/openclaw/internal/channels/zalo"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/cron"
	"github.com/openclaw/openclaw/internal/diffview"
	"github.com/openclaw/openclaw/internal/gateway"
	"github.com/openclaw/openclaw/internal/mcp"
	"github.com/openclaw/openclaw/internal/sessions"
	"github.com/openclaw/openclaw/internal/subagent"
	"github.com/openclaw/openclaw/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging(false)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(exitMisconfigured)
	}
	if checks := config.DoctorChecks(cfg); config.DoctorBlocked(checks) {
		for _, c := range checks {
			if c.Severity != "ok" {
				slog.Error("doctor", "check", c.ID, "severity", c.Severity, "message", c.Message)
			}
		}
		slog.Error("startup blocked by doctor errors; run 'openclaw doctor --fix'")
		os.Exit(exitMisconfigured)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, slog.Default())
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	sessionStore, err := sessions.NewStore(config.SessionStorePath())
	if err != nil {
		slog.Error("session store open failed", "error", err)
		os.Exit(1)
	}

	providerRegistry := buildProviderRegistry(cfg)
	if len(providerRegistry.Names()) == 0 {
		slog.Warn("no model providers configured; set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	spec := cfg.ResolveAgent(cfg.DefaultAgentID())
	if spec.Workspace != "" {
		if created, err := bootstrap.EnsureWorkspaceFiles(spec.Workspace); err != nil {
			slog.Warn("workspace seeding failed", "workspace", spec.Workspace, "error", err)
		} else if len(created) > 0 {
			slog.Info("workspace seeded", "workspace", spec.Workspace, "files", strings.Join(created, ","))
		}
	}
	var runtime agent.Runtime = agent.NewRunner(agent.RunnerConfig{
		Providers:       providerRegistry,
		Sessions:        sessionStore,
		DefaultProvider: spec.ModelProvider,
		TranscriptDir:   filepath.Join(config.StateDir(), "transcripts"),
	})
	runtime = tracing.WrapRuntime(runtime)

	msgBus := bus.NewMessageBus()

	registry, err := channels.DefaultRegistry(
		telegram.New(),
		discord.New(),
		feishu.New(),
		zalo.New(),
		webchat.New(msgBus),
	)
	if err != nil {
		slog.Error("channel registry build failed", "error", err)
		os.Exit(1)
	}
	supervisor := channels.NewSupervisor(registry, msgBus, cfg)

	mcpManager := mcp.NewManager(mcp.FromConfig(cfg.MCP.Servers), slog.Default())
	if err := mcpManager.Start(ctx); err != nil {
		slog.Warn("mcp startup incomplete", "error", err)
	}
	defer mcpManager.Stop()

	jobStore, err := cron.NewJobStore(config.CronStorePath())
	if err != nil {
		slog.Error("cron store open failed", "error", err)
		os.Exit(1)
	}
	cronRunner := cron.NewRunner(cron.RunnerOptions{
		Config:    cfg,
		Jobs:      jobStore,
		Sessions:  sessionStore,
		Runtime:   runtime,
		Snapshots: cron.NewWorkspaceSnapshots(spec.Workspace, mcpManager),
	})

	broker := approvals.NewBroker(nil, slog.Default())

	server := gateway.NewServer(cfg, msgBus, slog.Default())
	deps := gateway.CoreDeps{
		Config:     cfg,
		Sessions:   sessionStore,
		Runtime:    runtime,
		Providers:  providerRegistry,
		Approvals:  broker,
		CronJobs:   jobStore,
		CronRun:    cronRunner,
		Channels:   registry,
		Supervisor: supervisor,
		Bus:        msgBus,
	}
	deps.Subagent = subagent.NewOrchestrator(cfg, gateway.NewSubagentDeps(server, deps))
	gateway.RegisterCoreMethods(server, deps)

	diffStore := diffview.NewStore(filepath.Join(config.StateDir(), "diffs"),
		diffview.TTLFromMinutes(cfg.Diffs.TTLMinutes), slog.Default())
	viewer := diffview.NewViewer(diffStore, cfg.Diffs.AllowRemoteViewer)
	server.BuildMux(registry,
		channels.WildcardHandler{Prefix: "/plugins/diffs/view/", Handler: http.HandlerFunc(viewer.ViewHandler)},
		channels.WildcardHandler{Prefix: "/plugins/diffs/assets/", Handler: http.HandlerFunc(viewer.AssetsHandler)},
	)

	if err := supervisor.StartAll(ctx); err != nil {
		slog.Warn("some channel accounts failed to start", "error", err)
	}
	defer supervisor.StopAll()

	if cfg.Cron.Enabled {
		go cronRunner.Start(ctx)
	}
	go broker.SweepLoop(ctx)
	go consumeInbound(ctx, msgBus, runtime, cfg)

	slog.Info("gateway starting",
		"bind", cfg.Gateway.BindHost(),
		"port", cfg.Gateway.GatewayPort(),
		"channels", strings.Join(registry.IDs(), ","),
	)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}
