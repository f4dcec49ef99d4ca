package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/specialistvlad/lorapack/internal/engine"
	"github.com/specialistvlad/lorapack/internal/sysprofile"
)

// MetadataFile is the name of the descriptor inside an artifact.
const MetadataFile = "finetuning_config.json"

// ErrMetadataExists is returned when a descriptor is already present.
var ErrMetadataExists = errors.New("metadata descriptor already exists")

// LoraConfig is the adapter section of the descriptor.
type LoraConfig struct {
	Rank          int      `json:"r"`
	Alpha         int      `json:"alpha"`
	Dropout       float64  `json:"dropout"`
	TargetModules []string `json:"target_modules"`
	Bias          string   `json:"bias"`
	TaskType      string   `json:"task_type"`
}

// License records how license compliance was satisfied.
type License struct {
	Status      string `json:"status"`
	File        string `json:"file,omitzero"`
	Source      string `json:"source,omitzero"`
	IncidentLog string `json:"incident_log,omitzero"`
}

// Metadata is the persisted description of a fine-tuned artifact.
type Metadata struct {
	Method         string             `json:"method"`
	Version        string             `json:"version"`
	LoraConfig     LoraConfig         `json:"lora_config"`
	TrainingConfig engine.Schedule    `json:"training_config"`
	PromptTemplate string             `json:"prompt_template"`
	FinetunedDate  string             `json:"finetuned_date"`
	FinetunedBy    string             `json:"finetuned_by"`
	Organization   string             `json:"organization"`
	Role           string             `json:"role"`
	System         sysprofile.Profile `json:"system"`
	RunID          string             `json:"run_id"`
	BaseModel      string             `json:"base_model"`
	BaseModelPath  string             `json:"base_model_path"`
	Examples       int                `json:"examples"`
	DatasetFiles   []string           `json:"dataset_files"`
	License        License            `json:"license"`
}

// WriteMetadata creates path and writes m to it. It never overwrites: an
// existing file yields ErrMetadataExists.
func WriteMetadata(path string, m Metadata) error {
	data, err := json.Marshal(m, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", path, ErrMetadataExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return f.Close()
}

// ReadMetadata loads a descriptor.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &m, nil
}
