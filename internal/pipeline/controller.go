// Package pipeline sequences a fine-tuning run: loading, encoding,
// training, packaging and documentation. Stages run strictly in order on
// the caller's goroutine; the current state may be read concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/specialistvlad/lorapack/internal/adapter"
	"github.com/specialistvlad/lorapack/internal/artifact"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/dataset"
	"github.com/specialistvlad/lorapack/internal/docs"
	"github.com/specialistvlad/lorapack/internal/encoder"
	"github.com/specialistvlad/lorapack/internal/engine"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/specialistvlad/lorapack/internal/fsutil"
	"github.com/specialistvlad/lorapack/internal/prompt"
	"github.com/specialistvlad/lorapack/internal/sysprofile"
	"github.com/specialistvlad/lorapack/internal/tokenizer"
)

// ErrDeclined is returned when the operator declines a run without an
// accelerator.
var ErrDeclined = errors.New("run declined by operator")

// AcceleratorQuestion is asked when no accelerator is available.
const AcceleratorQuestion = "Continue anyway? (y/n): "

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// Result describes a completed run.
type Result struct {
	RunID    string
	Artifact *artifact.Artifact
	// DocPath is empty when the model card could not be written.
	DocPath  string
	Examples int
	Model    *adapter.Model
	System   sysprofile.Profile
}

// Controller runs one fine-tuning job. A Controller is single-use.
type Controller struct {
	Config   config.RunConfiguration
	RunID    string
	Trainer  engine.Trainer
	Detector sysprofile.Detector
	// Confirm is consulted when no accelerator is detected; nil proceeds.
	Confirm ConfirmFunc
	// LoadTokenizer defaults to tokenizer.Load.
	LoadTokenizer func(modelDir string) (tokenizer.Tokenizer, error)
	Packager      *artifact.Packager
	// Now defaults to time.Now.
	Now func() time.Time
	// OnTransition observes every state change. It runs on the pipeline
	// goroutine and must not block.
	OnTransition func(from, to State)
	// OnTrainerEvent observes trainer progress events.
	OnTrainerEvent func(engine.Event)

	mu    sync.RWMutex
	state State
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) transition(ctx context.Context, to State) error {
	c.mu.Lock()
	from := c.state
	if !allowed(from, to) {
		c.mu.Unlock()
		return fault.Newf(fault.Unexpected, from.String(), "illegal state transition %s -> %s", from, to)
	}
	c.state = to
	c.mu.Unlock()

	ctxlog.FromContext(ctx).Debug("State transition.", "from", from.String(), "to", to.String())
	if c.OnTransition != nil {
		c.OnTransition(from, to)
	}
	return nil
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run executes the pipeline. On failure the state becomes Failed and the
// returned error carries its fault.Kind; interruption returns the context's
// error. A panic in a stage is returned as an Unexpected fault labelled
// with the stage it happened in.
func (c *Controller) Run(ctx context.Context) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &fault.Error{
				Kind:  fault.Unexpected,
				Stage: c.State().String(),
				Err:   fmt.Errorf("panic: %v", r),
				Stack: debug.Stack(),
			}
		}
		if err != nil {
			res = nil
			if !c.State().IsTerminal() && c.State() != Idle {
				_ = c.transition(ctx, Failed)
			}
		}
	}()
	return c.run(ctx)
}

func (c *Controller) run(ctx context.Context) (*Result, error) {
	cfg := c.Config
	res := &Result{RunID: c.RunID}

	// Loading
	if err := c.transition(ctx, Loading); err != nil {
		return nil, err
	}
	sctx := ctxlog.WithStage(ctx, Loading.String())
	logger := ctxlog.FromContext(sctx)

	if !fsutil.Exists(cfg.ModelPath) {
		return nil, fault.Newf(fault.ModelPathNotFound, Loading.String(), "model not found: %s", cfg.ModelPath)
	}

	res.System = c.detect(sctx)
	if !res.System.Accelerator {
		logger.Warn("CUDA not available. Fine-tuning will be very slow on CPU.")
		if c.Confirm != nil {
			ok, err := c.Confirm(sctx, AcceleratorQuestion)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrDeclined
			}
		}
	}

	data, err := dataset.Load(sctx, cfg.DatasetDir(), dataset.Options{
		Pattern:           cfg.Dataset.Pattern,
		RejectEmptyOutput: cfg.Dataset.RejectEmptyOutput,
	})
	if err != nil {
		return nil, err
	}
	res.Examples = len(data.Examples)

	tok, err := c.loadTokenizer(cfg.ModelPath)
	if err != nil {
		return nil, fault.New(fault.ModelLoadFailure, Loading.String(), fmt.Errorf("failed to load tokenizer: %w", err))
	}
	base, err := adapter.LoadBaseModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded base model.", "architecture", base.Architecture, "params", base.TotalParams())
	spec := adapter.SpecFrom(cfg.Adapter)
	res.Model, err = adapter.Apply(sctx, base, spec)
	if err != nil {
		return nil, err
	}

	// Encoding
	if err := c.transition(ctx, Encoding); err != nil {
		return nil, err
	}
	sctx = ctxlog.WithStage(ctx, Encoding.String())
	formatted := prompt.FormatAll(data.Examples)
	texts := make([]string, len(formatted))
	for i, f := range formatted {
		texts[i] = f.Text
	}
	enc, err := encoder.New(tok, cfg.Schedule.MaxSeqLength)
	if err != nil {
		return nil, err
	}
	encoded, err := enc.EncodeBatch(sctx, texts, cfg.Dataset.EncodeBatchSize)
	if err != nil {
		return nil, err
	}

	// Training
	if err := c.transition(ctx, Training); err != nil {
		return nil, err
	}
	sctx = ctxlog.WithStage(ctx, Training.String())
	schedule := engine.ScheduleFrom(cfg.Schedule)
	staging := filepath.Join(cfg.Paths.ModelsDir, ".staging-"+c.RunID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fault.New(fault.TrainingFailure, Training.String(), fmt.Errorf("failed to create staging directory: %w", err))
	}
	defer os.RemoveAll(staging)

	weights, err := c.train(sctx, engine.Job{
		RunID:        c.RunID,
		BaseModel:    cfg.ModelPath,
		Adapter:      spec,
		Schedule:     schedule,
		Tokenization: engine.TokenizationFrom(enc),
		Dir:          staging,
		Examples:     encoded,
	})
	if err != nil {
		return nil, err
	}

	// Saving
	if err := c.transition(ctx, Saving); err != nil {
		return nil, err
	}
	sctx = ctxlog.WithStage(ctx, Saving.String())
	packager := c.Packager
	if packager == nil {
		packager = &artifact.Packager{Now: c.Now}
	}
	res.Artifact, err = packager.Package(sctx, artifact.Input{
		RunID:           c.RunID,
		Config:          cfg,
		Adapter:         spec,
		Schedule:        schedule,
		Weights:         weights,
		Tokenizer:       tok,
		System:          res.System,
		Examples:        res.Examples,
		DatasetFiles:    data.Files,
		TemplateVersion: prompt.TemplateVersion,
	})
	if err != nil {
		return nil, err
	}

	// Documenting
	if err := c.transition(ctx, Documenting); err != nil {
		return nil, err
	}
	sctx = ctxlog.WithStage(ctx, Documenting.String())
	res.DocPath, err = docs.Write(docs.Input{
		Config:        cfg,
		Examples:      res.Examples,
		Date:          c.now(),
		LicenseStatus: res.Artifact.Metadata.License.Status,
		RunID:         c.RunID,
	})
	switch {
	case err == nil:
		ctxlog.FromContext(sctx).Info("Documentation written.", "path", res.DocPath)
	case !fault.KindOf(err).Fatal():
		ctxlog.FromContext(sctx).Warn("Documentation was not written.", "error", err)
	default:
		return nil, err
	}

	if err := c.transition(ctx, Complete); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Controller) detect(ctx context.Context) sysprofile.Profile {
	logger := ctxlog.FromContext(ctx)
	detector := c.Detector
	if detector == nil {
		detector = &sysprofile.HostDetector{}
	}
	p := detector.Detect(ctx).WithLabels(c.Config.System)
	logger.Info("System Check.",
		"gpu", p.GPU, "vram", p.VRAM, "cuda_available", p.Accelerator,
		"ram", p.RAM, "os", p.OS, "arch", p.Arch, "cpus", p.CPUs)
	return p
}

func (c *Controller) loadTokenizer(dir string) (tokenizer.Tokenizer, error) {
	if c.LoadTokenizer != nil {
		return c.LoadTokenizer(dir)
	}
	return tokenizer.Load(dir)
}

// train runs the trainer in job.Dir, keeping at most CheckpointLimit
// checkpoints there regardless of what the trainer does.
func (c *Controller) train(ctx context.Context, job engine.Job) (*engine.Weights, error) {
	logger := ctxlog.FromContext(ctx)
	if c.Trainer == nil {
		return nil, fault.Newf(fault.TrainingFailure, Training.String(), "no trainer configured")
	}
	limit := c.Config.Schedule.CheckpointLimit
	prune := func() {
		removed, err := PruneCheckpoints(job.Dir, limit)
		if err != nil {
			logger.Warn("Failed to prune checkpoints.", "error", err)
		}
		for _, p := range removed {
			logger.Debug("Pruned checkpoint.", "path", p)
		}
	}
	job.OnEvent = func(ev engine.Event) {
		if ev.Event == engine.EventCheckpoint {
			prune()
		}
		if c.OnTrainerEvent != nil {
			c.OnTrainerEvent(ev)
		}
	}

	logger.Info("Starting training...", "examples", len(job.Examples), "epochs", job.Schedule.Epochs)
	weights, err := c.Trainer.Train(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var fe *fault.Error
		if !errors.As(err, &fe) {
			err = fault.New(fault.TrainingFailure, Training.String(), err)
		}
		return nil, err
	}
	prune()
	if weights == nil || len(weights.Files) == 0 {
		return nil, fault.Newf(fault.TrainingFailure, Training.String(), "trainer returned no weights")
	}
	return weights, nil
}
