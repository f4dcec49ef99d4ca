// Package docs renders the human-readable model card written next to every
// fine-tuned artifact.
package docs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/fault"
	"gopkg.in/yaml.v3"
)

const stage = "documenting"

// DateLayout is the date format of the Fine-Tuning Information section.
const DateLayout = "02.01.2006"

// Input is the data a model card is rendered from.
type Input struct {
	Config        config.RunConfiguration
	Examples      int
	Date          time.Time
	LicenseStatus string
	RunID         string
}

type frontMatter struct {
	BaseModel      string   `yaml:"base_model"`
	DatasetVersion string   `yaml:"dataset_version"`
	Method         string   `yaml:"method"`
	License        string   `yaml:"license,omitempty"`
	RunID          string   `yaml:"run_id,omitempty"`
	Tags           []string `yaml:"tags"`
}

var cardTemplate = template.Must(template.New("card").Parse(heredoc.Doc(`
	# {{.Name}} - Fine-Tuned {{.VersionUpper}}

	## Fine-Tuning Information
	- **Changed by**: {{.Operator.Name}}
	- **Organization**: {{.Operator.Organization}}
	- **Role**: {{.Operator.Role}}
	- **Date**: {{.Date}}
	- **Source Model**: [{{.Name}}.md]({{.Name}}.md)

	## Changes Made
	- Applied {{.Adapter.Method}} (Low-Rank Adaptation) fine-tuning
	- Training data: {{.Examples}} examples ({{.Version}})
	{{- if .Domain}}
	- Specialized for {{.Domain}}
	{{- end}}
	- Target modules: {{.Targets}}

	## Fine-Tuning Details
	- **Method**: {{.Adapter.Method}}
	- **Version**: {{.Version}}
	- **LoRA Rank (r)**: {{.Adapter.Rank}}
	- **LoRA Alpha**: {{.Adapter.Alpha}}
	- **Dropout**: {{.Adapter.Dropout}}
	- **Epochs**: {{.Schedule.Epochs}}
	- **Learning Rate**: {{.Schedule.LearningRate}}
	- **Batch Size**: {{.Schedule.BatchSize}}
	- **Max Sequence Length**: {{.Schedule.MaxSeqLength}}

	## Training Data
	- **Location**: ` + "`training data/{{.Version}}/`" + `
	- **Format**: JSONL (instruction, input, output)
	{{- if .Domain}}
	- **Domain**: {{.Domain}}
	{{- end}}
	- Examples: {{.Examples}}

	## System Requirements
	- **GPU**: Recommended for inference (can run on CPU)
	- **VRAM**: 4-6GB for inference
	- **RAM**: 16GB minimum

	## Next Steps
	1. Test on validation queries
	2. Quantize fine-tuned model for CPU deployment
	3. Compare with base model performance
	4. Iterate with additional training data (v2, v3, etc.)
`)))

// Render produces the Markdown model card.
func Render(in Input) (string, error) {
	cfg := in.Config
	fm := frontMatter{
		BaseModel:      cfg.ModelName,
		DatasetVersion: cfg.Dataset.Version,
		Method:         cfg.Adapter.Method,
		License:        in.LicenseStatus,
		RunID:          in.RunID,
		Tags:           []string{"fine-tuned", strings.ToLower(cfg.Adapter.Method), cfg.Dataset.Version},
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("failed to encode front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	err = cardTemplate.Execute(&b, map[string]any{
		"Name":         cfg.ModelName,
		"Version":      cfg.Dataset.Version,
		"VersionUpper": strings.ToUpper(cfg.Dataset.Version),
		"Operator":     cfg.Operator,
		"Date":         in.Date.Format(DateLayout),
		"Adapter":      cfg.Adapter,
		"Schedule":     cfg.Schedule,
		"Targets":      strings.Join(cfg.Adapter.TargetModules, ", "),
		"Examples":     in.Examples,
		"Domain":       cfg.DocsDomain,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render model card: %w", err)
	}
	return b.String(), nil
}

// Write renders the card and stores it at the run's documentation path,
// returning that path. Failures are DocumentationWriteFailure.
func Write(in Input) (string, error) {
	content, err := Render(in)
	if err != nil {
		return "", fault.New(fault.DocumentationWriteFailure, stage, err)
	}
	path := in.Config.DocPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fault.New(fault.DocumentationWriteFailure, stage, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fault.New(fault.DocumentationWriteFailure, stage, fmt.Errorf("failed to write %s: %w", path, err))
	}
	return path, nil
}
