package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/crash"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/engine"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/specialistvlad/lorapack/internal/fsutil"
	"github.com/specialistvlad/lorapack/internal/notify"
	"github.com/specialistvlad/lorapack/internal/pipeline"
)

// Run executes one fine-tuning run and is the single top-level failure
// handler. Pre-flight failures are returned after an operator diagnostic;
// every other fatal failure, including a panic, is also written as a crash
// report. A declined run returns nil. Interruption returns the context's
// error without a report.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger
	logger.Info(fmt.Sprintf("Fine-Tuning - %s", ProgramName), "model", a.config.ModelPath)

	defer func() {
		if r := recover(); r != nil {
			err = &fault.Error{
				Kind:  fault.Unexpected,
				Stage: a.State().String(),
				Err:   fmt.Errorf("panic: %v", r),
				Stack: debug.Stack(),
			}
		}
		err = a.handle(ctx, err)
	}()

	cfg, err := a.resolve(ctx)
	if err != nil {
		return err
	}

	pub := a.publisher(ctx, cfg.Notify)
	defer func() {
		pub.Publish(a.resultMessage(err))
		pub.Close()
	}()

	c := &pipeline.Controller{
		Config:        cfg,
		RunID:         a.runID,
		Trainer:       a.newTrainer(cfg.EngineCommand),
		Detector:      a.detector,
		Confirm:       a.confirm,
		Now:           a.now,
		LoadTokenizer: a.loadTokenizer,
		OnTransition: func(from, to pipeline.State) {
			pub.Publish(notify.Message{Kind: notify.KindStage, RunID: a.runID, Time: a.now(), From: from.String(), State: to.String()})
		},
		OnTrainerEvent: func(ev engine.Event) {
			pub.Publish(notify.Message{
				Kind: notify.KindTrainer, RunID: a.runID, Time: a.now(),
				Event: ev.Event, Step: ev.Step, Epoch: ev.Epoch, Loss: ev.Loss,
				LearningRate: ev.LearningRate, Path: ev.Path,
			})
		},
	}
	a.mu.Lock()
	a.controller = c
	a.mu.Unlock()

	if err := a.startStatusServer(ctx); err != nil {
		logger.Warn("Status server not started.", "error", err)
	}
	defer a.closeStatusServer(ctx)

	res, err := c.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("Complete.", "artifact", res.Artifact.Dir, "examples", res.Examples)
	logger.Info("Next: Quantize the fine-tuned model for CPU deployment")
	return nil
}

// resolve loads override files and builds the immutable run configuration.
func (a *App) resolve(ctx context.Context) (config.RunConfiguration, error) {
	logger := ctxlog.FromContext(ctx)

	workDir := a.config.WorkDir
	if workDir == "" {
		workDir = "."
	}
	path := a.config.ConfigPath
	if path == "" {
		path = filepath.Join(workDir, DefaultConfigFile)
	} else if !fsutil.Exists(path) {
		return config.RunConfiguration{}, fault.Newf(fault.ConfigurationInvalid, pipeline.Idle.String(), "override file not found: %s", path)
	}

	overrides, err := a.loader.Load(ctx, path)
	if err != nil {
		return config.RunConfiguration{}, fault.New(fault.ConfigurationInvalid, pipeline.Idle.String(), err)
	}

	cfg, missing := config.Resolve(config.ResolveInput{
		Overrides: overrides,
		Getenv:    a.getenv,
		ModelPath: a.config.ModelPath,
		WorkDir:   workDir,
	})
	for _, notice := range missing {
		logger.Warn("Configuration missing.", "kind", fault.ConfigurationMissing.String(), "notice", notice)
	}

	a.mu.Lock()
	a.resolved = &cfg
	a.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return cfg, fault.New(fault.ConfigurationInvalid, pipeline.Idle.String(), err)
	}
	logger.Info("Configuration resolved.",
		"method", cfg.Adapter.Method, "version", cfg.Dataset.Version,
		"operator", cfg.Operator.Name, "organization", cfg.Operator.Organization,
		"override_files", len(cfg.Sources))
	return cfg, nil
}

// handle classifies the outcome of a run.
func (a *App) handle(ctx context.Context, err error) error {
	logger := a.logger
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrDeclined):
		logger.Info("Run declined; nothing was written.")
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Interrupted by user")
		return err
	case fault.IsPreflight(err):
		logger.Error("Failed.", "kind", fault.KindOf(err).String(), "error", err)
		return err
	}

	logger.Error("Failed.", "kind", fault.KindOf(err).String(), "error", err)
	path, werr := a.writeCrashReport(err)
	if werr != nil {
		logger.Error("Could not write crash report.", "error", werr)
		return err
	}
	logger.Error("Crash report saved.", "path", path)
	return err
}

func (a *App) writeCrashReport(err error) (string, error) {
	a.mu.Lock()
	resolved := a.resolved
	a.mu.Unlock()

	report := crash.FromError(err, a.now())
	report.Program = ProgramName
	report.RunID = a.runID

	logsDir := filepath.Join(a.config.WorkDir, config.Defaults().Paths.LogsDir)
	model := a.config.ModelPath
	if resolved != nil {
		logsDir = resolved.Paths.LogsDir
		model = resolved.ModelPath
		report.Config = resolved.Snapshot()
	}

	stage := a.State().String()
	if s := fault.StageOf(err); s != "" {
		stage = s
	}
	report.Context = fmt.Sprintf("stage=%s model=%s", stage, model)

	rep := &crash.Reporter{LogsDir: logsDir}
	return rep.Write(report)
}
