package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"patchwarden/internal/adapters"
	"patchwarden/internal/audit"
	"patchwarden/internal/condense"
	"patchwarden/internal/config"
	"patchwarden/internal/gate"
	"patchwarden/internal/gitops"
	"patchwarden/internal/logging"
	"patchwarden/internal/metrics"
	"patchwarden/internal/planner"
	"patchwarden/internal/steps"
	"patchwarden/internal/validators"
	"patchwarden/internal/workspace"
)

const auditBuffer = 256

// app holds the collaborators shared by the run, plan and gate commands.
type app struct {
	ws       *workspace.Workspace
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics.Pipeline
	auditLog *audit.Log
	sink     *audit.Async
	executor adapters.Executor
	// repo is nil when the workspace is not a git checkout.
	repo     *gitops.Repo
	excluded []string
}

func loadConfig(opts *globalOptions) (*workspace.Workspace, *config.Config, error) {
	ws, err := workspace.Resolve(opts.workspace)
	if err != nil {
		return nil, nil, err
	}
	path := ws.ConfigPath
	if opts.configPath != "" {
		if path, err = ws.ResolvePath(opts.configPath); err != nil {
			return nil, nil, fmt.Errorf("resolve --config: %w", err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if opts.executor != "" {
		cfg.Agent.Executor = opts.executor
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.ResolveDirectives(ws.Root); err != nil {
		return nil, nil, err
	}
	return ws, cfg, nil
}

// openApp loads configuration and opens the state stores. validate=false skips the full
// configuration check for commands that only need the quality gate.
func openApp(opts *globalOptions, validate bool) (*app, error) {
	ws, cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	} else if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: logging: %w", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &app{ws: ws, cfg: cfg, log: logger, metrics: metrics.New()}

	if a.excluded, err = ws.ExcludedPrefixes(cfg.ExcludedPaths); err != nil {
		return nil, err
	}

	if a.auditLog, err = audit.Open(ws.AuditDBPath); err != nil {
		return nil, err
	}
	a.sink = audit.NewAsync(a.auditLog, auditBuffer, logger, a.metrics.ObserveDroppedEvent)

	switch cfg.Agent.Executor {
	case "mock":
		a.executor = &adapters.MockExecutor{}
	default:
		a.executor = &adapters.CodexExecutor{Command: cfg.Agent.Command}
	}

	repo, err := gitops.Open(ws.Root, gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail})
	switch {
	case errors.Is(err, gitops.ErrNotRepository):
		logger.Warn("workspace is not a git repository; plans will not be committed", zap.String("workspace", ws.Root))
	case err != nil:
		a.close()
		return nil, err
	default:
		a.repo = repo
		logger.Debug("git repository", zap.String("root", repo.Root()), zap.String("branch", repo.Branch()))
	}
	return a, nil
}

// close drains pending audit events and releases the state stores.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.log.Warn("flush audit events", zap.Error(err))
		}
	}
	if a.auditLog != nil {
		_ = a.auditLog.Close()
	}
	if path := strings.TrimSpace(a.cfg.MetricsTextfile); path != "" {
		if resolved, err := a.ws.ResolvePath(path); err == nil {
			if err := a.metrics.WriteTextfile(resolved); err != nil {
				a.log.Warn("write metrics textfile", zap.Error(err))
			}
		}
	}
	_ = a.log.Sync()
}

func (a *app) gate() (*gate.Runner, error) {
	llm, err := condense.FromConfig(a.cfg.Condenser)
	if err != nil {
		return nil, err
	}
	var condenser gate.Condenser
	if llm != nil {
		condenser = llm
	}
	g := gate.New(a.cfg.QualityGate, condenser, a.log.Named("gate"))
	g.Recorder = a.metrics
	return g, nil
}

func (a *app) fingerprints() (apply, fix, review adapters.Fingerprint) {
	agent := a.cfg.Agent
	apply = adapters.Fingerprint{Model: agent.Model, Reasoning: agent.Reasoning}
	fix = adapters.Fingerprint{Model: orDefault(agent.FixModel, agent.Model), Reasoning: orDefault(agent.FixReasoning, agent.Reasoning)}
	review = adapters.Fingerprint{Model: orDefault(agent.ValidatorModel, agent.Model), Reasoning: orDefault(agent.ValidatorReasoning, agent.Reasoning)}
	return apply, fix, review
}

func (a *app) reviewer() *validators.Agent {
	_, _, review := a.fingerprints()
	return &validators.Agent{
		Executor:    a.executor,
		Fingerprint: review,
		WorkDir:     a.ws.Root,
		Timeout:     a.cfg.Agent.Timeout,
		Recorder:    a.metrics,
		Logger:      a.log.Named("validator"),
	}
}

func (a *app) stepPipeline() (*steps.Pipeline, error) {
	g, err := a.gate()
	if err != nil {
		return nil, err
	}
	apply, fix, _ := a.fingerprints()
	cfg := steps.Config{
		WorkDir:               a.ws.Root,
		ExcludedPrefixes:      a.excluded,
		Executor:              a.executor,
		ApplyFingerprint:      apply,
		FixFingerprint:        fix,
		Timeout:               a.cfg.Agent.Timeout,
		MaxThreadAttempts:     a.cfg.Limits.MaxThreadAttempts,
		MaxRegressionAttempts: a.cfg.Limits.MaxRegressionAttempts,
		MaxValidationRetries:  a.cfg.Limits.MaxValidationRetries,
		Validator:             a.reviewer(),
		Gate:                  g,
		Audit:                 a.sink,
		Recorder:              a.metrics,
		Logger:                a.log.Named("step"),
	}
	if a.repo != nil {
		cfg.Baseline = a.repo
	}
	return steps.New(cfg)
}

func (a *app) planPipeline(runner planner.StepRunner, commit bool) (*planner.Pipeline, error) {
	apply, _, _ := a.fingerprints()
	cfg := planner.Config{
		WorkDir:          a.ws.Root,
		ExcludedPrefixes: a.excluded,
		Executor:         a.executor,
		Fingerprint:      apply,
		Timeout:          a.cfg.Agent.Timeout,
		Validator:        a.reviewer(),
		Steps:            runner,
		Audit:            a.sink,
		Recorder:         a.metrics,
		Logger:           a.log.Named("planner"),
	}
	if commit && a.cfg.Git.Commit && a.repo != nil {
		cfg.Committer = a.repo
	}
	return planner.New(cfg)
}

func (a *app) auditors() []planner.Auditor {
	out := make([]planner.Auditor, 0, len(a.cfg.Auditors))
	for _, au := range a.cfg.Auditors {
		out = append(out, planner.Auditor{Name: strings.TrimSpace(au.Name), Directive: au.Directive})
	}
	return out
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
