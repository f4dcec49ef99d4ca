package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	environ []string
}

// NewLoader creates a new HCL override loader whose `env` object is built
// from environ (usually os.Environ()).
func NewLoader(environ []string) *Loader {
	return &Loader{environ: environ}
}

// Load parses every .hcl file found under paths and merges them into one
// Overrides value. Files are applied in lexical order, so a later file
// overrides attributes set by an earlier one.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Overrides, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))
	if len(hclFiles) == 0 {
		return nil, nil
	}

	evalCtx := newEvalContext(l.environ)
	parser := hclparse.NewParser()
	overrides := &config.Overrides{}

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		if err := l.translate(&root, evalCtx, overrides); err != nil {
			return nil, fmt.Errorf("failed to translate HCL file %s: %w", file, err)
		}
		overrides.Sources = append(overrides.Sources, file)
	}

	logger.Debug("HCL loading complete.", "files", len(overrides.Sources))
	return overrides, nil
}

// findAllHCLFiles walks all given paths and returns a flat, deduplicated
// list of the .hcl files found. Missing paths are not an error.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			files, err := fsutil.FindFilesByExtension(path, ".hcl", true)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				add(f)
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	return allFiles, nil
}

// translate merges one decoded file into the accumulated overrides.
func (l *Loader) translate(root *fileRoot, evalCtx *hcl.EvalContext, o *config.Overrides) error {
	if a := root.Adapter; a != nil {
		mergeString(&o.Method, a.Method)
		mergeInt(&o.Rank, a.Rank)
		mergeInt(&o.Alpha, a.Alpha)
		mergeFloat(&o.Dropout, a.Dropout)
		if a.TargetModules != nil {
			o.TargetModules = append([]string{}, (*a.TargetModules)...)
		}
	}
	if s := root.Schedule; s != nil {
		mergeInt(&o.Epochs, s.Epochs)
		mergeInt(&o.BatchSize, s.BatchSize)
		mergeInt(&o.GradAccumSteps, s.GradAccumSteps)
		mergeFloat(&o.LearningRate, s.LearningRate)
		mergeInt(&o.MaxSeqLength, s.MaxSeqLength)
		mergeInt(&o.WarmupSteps, s.WarmupSteps)
		mergeInt(&o.LoggingSteps, s.LoggingSteps)
		mergeInt(&o.SaveSteps, s.SaveSteps)
		mergeInt(&o.CheckpointLimit, s.CheckpointLimit)
		if s.FP16 != nil {
			o.FP16 = s.FP16
		}
		mergeString(&o.Optimizer, s.Optimizer)
	}
	if d := root.Dataset; d != nil {
		mergeString(&o.DatasetVersion, d.Version)
		mergeString(&o.DatasetPattern, d.Pattern)
		if d.RejectEmptyOutput != nil {
			o.RejectEmptyOutput = d.RejectEmptyOutput
		}
		mergeInt(&o.EncodeBatchSize, d.EncodeBatchSize)
	}
	if p := root.Paths; p != nil {
		mergeString(&o.ModelsDir, p.Models)
		mergeString(&o.DataDir, p.Data)
		mergeString(&o.LogsDir, p.Logs)
		mergeString(&o.DocsDir, p.Docs)
	}
	if op := root.Operator; op != nil {
		mergeString(&o.OperatorName, op.Name)
		mergeString(&o.OperatorOrganization, op.Organization)
		mergeString(&o.OperatorRole, op.Role)
	}
	if e := root.Engine; e != nil && e.Command != nil {
		o.EngineCommand = append([]string{}, (*e.Command)...)
	}
	if root.System != nil {
		labels, err := decodeStringAttributes(root.System.Body, evalCtx)
		if err != nil {
			return fmt.Errorf("system block: %w", err)
		}
		if o.System == nil {
			o.System = make(map[string]string, len(labels))
		}
		for k, v := range labels {
			o.System[k] = v
		}
	}
	if d := root.Docs; d != nil {
		mergeString(&o.DocsDomain, d.Domain)
	}
	if n := root.Notify; n != nil {
		mergeString(&o.NotifyURL, n.URL)
		mergeString(&o.NotifyNamespace, n.Namespace)
		if n.InsecureSkipVerify != nil {
			o.NotifyInsecureSkipVerify = n.InsecureSkipVerify
		}
	}
	return nil
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = src
	}
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		*dst = src
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		*dst = src
	}
}
