package engine

import (
	"context"

	"github.com/specialistvlad/lorapack/internal/adapter"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/encoder"
)

const stage = "training"

// ObjectiveCausalLM is next-token prediction over the whole sequence.
const ObjectiveCausalLM = "causal_lm"

// Event kinds emitted by trainers.
const (
	EventLog        = "log"
	EventCheckpoint = "checkpoint"
)

// Schedule is the optimization schedule of a job.
type Schedule struct {
	Objective      string  `json:"objective"`
	MaskInputs     bool    `json:"mask_inputs"`
	Epochs         int     `json:"num_train_epochs"`
	BatchSize      int     `json:"per_device_train_batch_size"`
	GradAccumSteps int     `json:"gradient_accumulation_steps"`
	LearningRate   float64 `json:"learning_rate"`
	MaxSeqLength   int     `json:"max_seq_length"`
	WarmupSteps    int     `json:"warmup_steps"`
	LoggingSteps   int     `json:"logging_steps"`
	SaveSteps      int     `json:"save_steps"`
	SaveTotalLimit int     `json:"save_total_limit"`
	FP16           bool    `json:"fp16"`
	Optimizer      string  `json:"optim"`
}

// ScheduleFrom builds the causal-LM schedule of a run. Labels are the
// input IDs themselves; the prompt part is not masked out.
func ScheduleFrom(s config.Schedule) Schedule {
	return Schedule{
		Objective:      ObjectiveCausalLM,
		MaskInputs:     false,
		Epochs:         s.Epochs,
		BatchSize:      s.BatchSize,
		GradAccumSteps: s.GradAccumSteps,
		LearningRate:   s.LearningRate,
		MaxSeqLength:   s.MaxSeqLength,
		WarmupSteps:    s.WarmupSteps,
		LoggingSteps:   s.LoggingSteps,
		SaveSteps:      s.SaveSteps,
		SaveTotalLimit: s.CheckpointLimit,
		FP16:           s.FP16,
		Optimizer:      s.Optimizer,
	}
}

// Tokenization tells the trainer how to turn each dataset text into model
// inputs with the base model's own tokenizer.
type Tokenization struct {
	MaxLength  int    `json:"max_length"`
	Padding    string `json:"padding"`
	Truncation bool   `json:"truncation"`
	// PadToEOS is set when the base model declares no padding token.
	PadToEOS   bool   `json:"pad_to_eos"`
}

// TokenizationFrom describes the contract enc applied.
func TokenizationFrom(enc *encoder.Encoder) Tokenization {
	return Tokenization{
		MaxLength:  enc.MaxLen(),
		Padding:    "max_length",
		Truncation: true,
		PadToEOS:   enc.PadsWithEOS(),
	}
}

// Job is one training request.
type Job struct {
	RunID        string
	BaseModel    string
	Adapter      adapter.Spec
	Schedule     Schedule
	Tokenization Tokenization
	// Dir is the job's private working directory. Checkpoints are written
	// directly below it as checkpoint-<step>.
	Dir      string
	Examples []encoder.Encoded
	// OnEvent, when set, receives every event in emission order.
	OnEvent func(Event)
}

// Event is a progress record emitted by a trainer.
type Event struct {
	Event        string  `json:"event"`
	Step         int     `json:"step"`
	Epoch        float64 `json:"epoch,omitzero"`
	Loss         float64 `json:"loss,omitzero"`
	LearningRate float64 `json:"learning_rate,omitzero"`
	Path         string  `json:"path,omitzero"`
	Message      string  `json:"message,omitzero"`
}

// Weights locates trained adapter weights.
type Weights struct {
	Dir   string
	Files []string
}

// Trainer optimizes adapter weights for a job.
type Trainer interface {
	Train(ctx context.Context, job Job) (*Weights, error)
}

// TrainerFunc adapts a function to the Trainer interface.
type TrainerFunc func(ctx context.Context, job Job) (*Weights, error)

// Train implements Trainer.
func (f TrainerFunc) Train(ctx context.Context, job Job) (*Weights, error) {
	return f(ctx, job)
}
