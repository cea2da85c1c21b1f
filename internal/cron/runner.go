package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/openclaw/openclaw/internal/agent"
	"github.com/openclaw/openclaw/internal/config"
	"github.com/openclaw/openclaw/internal/sessions"
)

// tickInterval matches cron's minute granularity.
const tickInterval = time.Minute

// SnapshotBuilder rebuilds the workspace skill snapshot for a normalized
// filter. Version identifies the skill set the snapshot was built from.
type SnapshotBuilder interface {
	Build(ctx context.Context, filter []string) (*sessions.SkillsSnapshot, error)
	Version() string
}

// RunnerOptions wires the scheduler's collaborators.
type RunnerOptions struct {
	Config    *config.Config
	Jobs      *JobStore
	Sessions  *sessions.Store
	Runtime   agent.Runtime
	Snapshots SnapshotBuilder
	Logger    *slog.Logger
}

// Runner evaluates schedules once a minute and runs due jobs, each in a
// fresh isolated cron session.
type Runner struct {
	cfg       *config.Config
	jobs      *JobStore
	sessions  *sessions.Store
	runtime   agent.Runtime
	snapshots SnapshotBuilder
	gron      *gronx.Gronx
	logger    *slog.Logger
}

func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       opts.Config,
		jobs:      opts.Jobs,
		sessions:  opts.Sessions,
		runtime:   opts.Runtime,
		snapshots: opts.Snapshots,
		gron:      gronx.New(),
		logger:    logger,
	}
}

// Start ticks until ctx ends.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Tick(ctx, now)
		}
	}
}

// Tick runs every enabled job whose schedule is due at now.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	for _, job := range r.jobs.List() {
		if !job.Enabled {
			continue
		}
		due, err := r.gron.IsDue(job.Schedule, now)
		if err != nil {
			r.logger.Error("invalid cron schedule", "job", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}
		if err := r.RunJob(ctx, job, now); err != nil {
			r.logger.Error("cron job failed", "job", job.ID, "error", err)
		}
	}
}

// RunJob executes one job tick: fresh session, skill snapshot check, model
// resolution, pre-run persistence, then the agent run with fallbacks. A
// failed run leaves the pre-run model record in place.
func (r *Runner) RunJob(ctx context.Context, job Job, now time.Time) error {
	agentID := job.AgentID
	if agentID == "" {
		agentID = r.cfg.DefaultAgentID()
	}
	spec := r.cfg.ResolveAgent(agentID)
	sessionKey := sessions.BuildCronSessionKey(agentID, job.ID)

	if err := r.ensureSkillSnapshot(ctx, sessionKey, spec); err != nil {
		r.recordRun(job.ID, now, fmt.Errorf("skill snapshot: %w", err))
		return err
	}

	primary, fallbacks, warning, err := resolveModel(spec, job.Payload.Model)
	if err != nil {
		r.recordRun(job.ID, now, err)
		return err
	}
	if warning != "" {
		r.logger.Warn("cron model override rejected", "job", job.ID, "warning", warning)
	}

	r.sessions.PersistPreRunModel(sessionKey, primary.Model, primary.Provider)

	req := agent.RunRequest{
		SessionKey: sessionKey,
		RunID:      uuid.NewString(),
		Message:    job.Payload.Message,
		Channel:    job.Payload.Channel,
		ChatID:     job.Payload.To,
		NewSession: true,
	}
	if entry := r.sessions.Get(sessionKey); entry != nil {
		req.CLISessionID = entry.CLISessionIDForRun(primary.Provider, true)
	}

	started := time.Now()
	result, err := agent.RunWithModelFallback(ctx, r.runtime, req, agent.FallbackChain(primary, fallbacks))
	if err != nil {
		r.recordRun(job.ID, now, err)
		return err
	}

	// Post-run telemetry: the model that actually answered, which may be a
	// fallback rather than the pre-run primary.
	perr := r.sessions.Update(sessionKey, func(e *sessions.Entry) {
		e.Model = result.Model
		e.ModelProvider = result.Provider
		e.LastProvider = result.Provider
		e.SystemSent = true
	})
	if perr != nil {
		r.logger.Warn("cron post-run persist failed", "job", job.ID, "error", perr)
	}

	if uerr := r.jobs.UpdateState(job.ID, func(s *JobState) {
		s.LastRunAtMs = now.UnixMilli()
		s.LastStatus = "ok"
		s.LastError = ""
		s.LastDurationMs = time.Since(started).Milliseconds()
		s.Runs++
	}); uerr != nil {
		r.logger.Warn("cron state persist failed", "job", job.ID, "error", uerr)
	}

	r.logger.Info("cron job ran",
		"job", job.ID, "session", sessionKey, "model", result.Model, "provider", result.Provider)
	return nil
}

// ensureSkillSnapshot rebuilds the session's skill snapshot when the
// normalized filter or the snapshot version changed; otherwise the stored
// snapshot is reused.
func (r *Runner) ensureSkillSnapshot(ctx context.Context, sessionKey string, spec config.AgentSpec) error {
	if r.snapshots == nil {
		return nil
	}
	filter := NormalizeSkillFilter(spec.SkillFilter)
	version := r.snapshots.Version()

	var existing *sessions.SkillsSnapshot
	if entry := r.sessions.Get(sessionKey); entry != nil {
		existing = entry.SkillsSnapshot
	}
	if snapshotCurrent(existing, filter, version) {
		return nil
	}

	snap, err := r.snapshots.Build(ctx, filter)
	if err != nil {
		return err
	}
	snap.SkillFilter = filter
	snap.Version = version
	return r.sessions.Update(sessionKey, func(e *sessions.Entry) {
		e.SkillsSnapshot = snap
	})
}

func (r *Runner) recordRun(jobID string, now time.Time, runErr error) {
	err := r.jobs.UpdateState(jobID, func(s *JobState) {
		s.LastRunAtMs = now.UnixMilli()
		s.LastStatus = "error"
		s.LastError = runErr.Error()
		s.Runs++
	})
	if err != nil {
		r.logger.Warn("cron state persist failed", "job", jobID, "error", err)
	}
}
