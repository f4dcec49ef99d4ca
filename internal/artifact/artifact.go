// Package artifact assembles the self-contained output directory of a
// fine-tuning run: adapter weights, tokenizer state, the base model's
// license and a write-once metadata descriptor.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/lorapack/internal/adapter"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/engine"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/specialistvlad/lorapack/internal/fsutil"
	"github.com/specialistvlad/lorapack/internal/sysprofile"
	"github.com/specialistvlad/lorapack/internal/tokenizer"
)

const stage = "saving"

// Artifact is a packaged fine-tuning result. Exactly one of LicenseFile and
// MissingLicenseLog is set.
type Artifact struct {
	Dir               string
	WeightFiles       []string
	TokenizerFiles    []string
	LicenseFile       string
	MissingLicenseLog string
	MetadataFile      string
	Metadata          Metadata
}

// Input is everything a run contributes to its artifact.
type Input struct {
	RunID           string
	Config          config.RunConfiguration
	Adapter         adapter.Spec
	Schedule        engine.Schedule
	Weights         *engine.Weights
	Tokenizer       tokenizer.Tokenizer
	System          sysprofile.Profile
	Examples        int
	DatasetFiles    []string
	TemplateVersion string
}

// Packager writes artifacts.
type Packager struct {
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Package builds the artifact in a hidden sibling directory and then
// replaces <ModelsDir>/<name>_ft_<version> with it, so a failed run never
// leaves a partial artifact at the final location. Errors are
// ArtifactWriteFailure.
func (p *Packager) Package(ctx context.Context, in Input) (*Artifact, error) {
	logger := ctxlog.FromContext(ctx)
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	cfg := in.Config
	final := cfg.ArtifactDir()
	partial := filepath.Join(cfg.Paths.ModelsDir, "."+cfg.ArtifactName()+".partial-"+in.RunID)

	if err := os.RemoveAll(partial); err != nil {
		return nil, fail(err)
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return nil, fail(fmt.Errorf("failed to create %s: %w", partial, err))
	}

	art, err := p.build(partial, final, now, in)
	if err != nil {
		os.RemoveAll(partial)
		return nil, fail(err)
	}
	if art.MissingLicenseLog != "" {
		logger.Warn("No LICENSE found in base model.", "model", cfg.ModelPath, "log", art.MissingLicenseLog)
	} else {
		logger.Info("Copied LICENSE to output.", "source", art.Metadata.License.Source)
	}

	if err := replaceDir(partial, final, in.RunID); err != nil {
		os.RemoveAll(partial)
		return nil, fail(err)
	}

	art.Dir = final
	art.MetadataFile = filepath.Join(final, MetadataFile)
	if art.LicenseFile != "" {
		art.LicenseFile = filepath.Join(final, LicenseFile)
	}
	logger.Info("Model saved.", "dir", final, "weights", len(art.WeightFiles), "tokenizer_files", len(art.TokenizerFiles))
	return art, nil
}

func (p *Packager) build(dir, final string, now time.Time, in Input) (*Artifact, error) {
	cfg := in.Config
	if in.Weights == nil || len(in.Weights.Files) == 0 {
		return nil, errors.New("no adapter weights to package")
	}

	art := &Artifact{}
	for _, name := range in.Weights.Files {
		if err := fsutil.CopyFile(filepath.Join(in.Weights.Dir, name), filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("failed to copy weights: %w", err)
		}
		art.WeightFiles = append(art.WeightFiles, name)
	}

	tokFiles, err := in.Tokenizer.Save(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to save tokenizer: %w", err)
	}
	art.TokenizerFiles = tokFiles

	lic, err := copyLicenseOrLog(cfg.ModelPath, dir, final, cfg.Paths.LogsDir, now)
	if err != nil {
		return nil, fmt.Errorf("license compliance: %w", err)
	}
	if lic.Status == LicenseCopied {
		art.LicenseFile = filepath.Join(dir, LicenseFile)
	} else {
		art.MissingLicenseLog = lic.IncidentLog
	}

	art.Metadata = Metadata{
		Method:  in.Adapter.Method,
		Version: cfg.Dataset.Version,
		LoraConfig: LoraConfig{
			Rank:          in.Adapter.Rank,
			Alpha:         in.Adapter.Alpha,
			Dropout:       in.Adapter.Dropout,
			TargetModules: in.Adapter.TargetModules,
			Bias:          in.Adapter.Bias,
			TaskType:      in.Adapter.TaskType,
		},
		TrainingConfig: in.Schedule,
		PromptTemplate: in.TemplateVersion,
		FinetunedDate:  now.Format(time.RFC3339),
		FinetunedBy:    cfg.Operator.Name,
		Organization:   cfg.Operator.Organization,
		Role:           cfg.Operator.Role,
		System:         in.System,
		RunID:          in.RunID,
		BaseModel:      cfg.ModelName,
		BaseModelPath:  cfg.ModelPath,
		Examples:       in.Examples,
		DatasetFiles:   in.DatasetFiles,
		License:        lic,
	}
	if err := WriteMetadata(filepath.Join(dir, MetadataFile), art.Metadata); err != nil {
		return nil, err
	}

	if err := verify(dir, art); err != nil {
		return nil, err
	}
	return art, nil
}

// verify checks that every required file landed in dir.
func verify(dir string, art *Artifact) error {
	if len(art.TokenizerFiles) == 0 {
		return errors.New("tokenizer wrote no files")
	}
	required := append(append([]string{MetadataFile}, art.WeightFiles...), art.TokenizerFiles...)
	for _, name := range required {
		if !fsutil.Exists(filepath.Join(dir, name)) {
			return fmt.Errorf("artifact is missing %s", name)
		}
	}
	return nil
}

// replaceDir moves src to dst, replacing any existing dst.
func replaceDir(src, dst, runID string) error {
	if !fsutil.Exists(dst) {
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("failed to move artifact into place: %w", err)
		}
		return nil
	}

	old := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old-"+runID)
	if err := os.Rename(dst, old); err != nil {
		return fmt.Errorf("failed to move previous artifact aside: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		os.Rename(old, dst)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return os.RemoveAll(old)
}

func fail(err error) error {
	return fault.New(fault.ArtifactWriteFailure, stage, err)
}
