package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
)

// Operator identifies who ran the fine-tuning, for the audit trail.
type Operator struct {
	Name         string
	Organization string
	Role         string
}

// Adapter holds the low-rank adaptation parameters.
type Adapter struct {
	Method        string
	Rank          int
	Alpha         int
	Dropout       float64
	TargetModules []string // sorted, deduplicated
}

// Schedule holds the training schedule handed to the training engine.
type Schedule struct {
	Epochs          int
	BatchSize       int
	GradAccumSteps  int
	LearningRate    float64
	MaxSeqLength    int
	WarmupSteps     int
	LoggingSteps    int
	SaveSteps       int
	CheckpointLimit int
	FP16            bool
	Optimizer       string
}

// Dataset selects and tunes ingestion of the training corpus.
type Dataset struct {
	Version           string
	Pattern           string
	RejectEmptyOutput bool
	EncodeBatchSize   int
}

// Paths are the absolute directories a run reads from and writes to.
type Paths struct {
	ModelsDir string
	DataDir   string
	LogsDir   string
	DocsDir   string
}

// Notify points at an optional socket.io endpoint that receives run
// progress. An empty URL disables publishing.
type Notify struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
}

// RunConfiguration is the immutable configuration of one run. It is passed
// by value; TargetModules and EngineCommand are copies owned by the value.
type RunConfiguration struct {
	ModelPath     string
	ModelName     string
	Adapter       Adapter
	Schedule      Schedule
	Dataset       Dataset
	Paths         Paths
	Operator      Operator
	EngineCommand []string
	System        map[string]string
	DocsDomain    string
	Notify        Notify
	Sources       []string
}

// ArtifactName is the directory name of the run's artifact.
func (c RunConfiguration) ArtifactName() string {
	return c.ModelName + "_ft_" + c.Dataset.Version
}

// ArtifactDir is the final location of the run's artifact.
func (c RunConfiguration) ArtifactDir() string {
	return filepath.Join(c.Paths.ModelsDir, c.ArtifactName())
}

// DatasetDir is the version-scoped training data directory.
func (c RunConfiguration) DatasetDir() string {
	return filepath.Join(c.Paths.DataDir, c.Dataset.Version)
}

// DocPath is the location of the run's documentation file.
func (c RunConfiguration) DocPath() string {
	return filepath.Join(c.Paths.DocsDir, c.ArtifactName()+".md")
}

// Validate checks the ranges of numeric parameters.
func (c RunConfiguration) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Adapter.Rank > 0, "adapter rank must be positive, got %d", c.Adapter.Rank)
	check(c.Adapter.Alpha > 0, "adapter alpha must be positive, got %d", c.Adapter.Alpha)
	check(c.Adapter.Dropout >= 0 && c.Adapter.Dropout < 1, "adapter dropout must be in [0, 1), got %g", c.Adapter.Dropout)
	check(len(c.Adapter.TargetModules) > 0, "adapter target_modules must not be empty")
	check(c.Schedule.Epochs > 0, "epochs must be positive, got %d", c.Schedule.Epochs)
	check(c.Schedule.BatchSize > 0, "batch_size must be positive, got %d", c.Schedule.BatchSize)
	check(c.Schedule.GradAccumSteps > 0, "grad_accum_steps must be positive, got %d", c.Schedule.GradAccumSteps)
	check(c.Schedule.LearningRate > 0, "learning_rate must be positive, got %g", c.Schedule.LearningRate)
	check(c.Schedule.MaxSeqLength > 0, "max_seq_length must be positive, got %d", c.Schedule.MaxSeqLength)
	check(c.Schedule.WarmupSteps >= 0, "warmup_steps must not be negative, got %d", c.Schedule.WarmupSteps)
	check(c.Schedule.LoggingSteps > 0, "logging_steps must be positive, got %d", c.Schedule.LoggingSteps)
	check(c.Schedule.SaveSteps > 0, "save_steps must be positive, got %d", c.Schedule.SaveSteps)
	check(c.Schedule.CheckpointLimit > 0, "checkpoint_limit must be positive, got %d", c.Schedule.CheckpointLimit)
	check(c.Dataset.Version != "" && !strings.ContainsAny(c.Dataset.Version, `/\`), "dataset version %q is not a valid directory name", c.Dataset.Version)
	check(c.Dataset.Pattern != "", "dataset pattern must not be empty")
	check(c.Dataset.EncodeBatchSize > 0, "encode_batch_size must be positive, got %d", c.Dataset.EncodeBatchSize)
	if c.Notify.URL != "" {
		u, err := url.Parse(c.Notify.URL)
		check(err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ws" || u.Scheme == "wss"),
			"notify url %q must be an absolute http(s) or ws(s) URL", c.Notify.URL)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid run configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Snapshot renders the full configuration as indented "key: value" lines
// for crash reports.
func (c RunConfiguration) Snapshot() string {
	var b strings.Builder
	line := func(key string, value any) {
		fmt.Fprintf(&b, "  %s: %v\n", key, value)
	}

	line("Model Path", c.ModelPath)
	line("Model Name", c.ModelName)
	line("Method", c.Adapter.Method)
	line("Version", c.Dataset.Version)
	line("LoRA Rank", c.Adapter.Rank)
	line("LoRA Alpha", c.Adapter.Alpha)
	line("LoRA Dropout", c.Adapter.Dropout)
	line("Target Modules", strings.Join(c.Adapter.TargetModules, ", "))
	line("Epochs", c.Schedule.Epochs)
	line("Batch Size", c.Schedule.BatchSize)
	line("Gradient Accumulation", c.Schedule.GradAccumSteps)
	line("Learning Rate", c.Schedule.LearningRate)
	line("Max Sequence Length", c.Schedule.MaxSeqLength)
	line("Warmup Steps", c.Schedule.WarmupSteps)
	line("Logging Steps", c.Schedule.LoggingSteps)
	line("Save Steps", c.Schedule.SaveSteps)
	line("Checkpoint Limit", c.Schedule.CheckpointLimit)
	line("FP16", c.Schedule.FP16)
	line("Optimizer", c.Schedule.Optimizer)
	line("Dataset Pattern", c.Dataset.Pattern)
	line("Reject Empty Output", c.Dataset.RejectEmptyOutput)
	line("Models Dir", c.Paths.ModelsDir)
	line("Data Dir", c.Paths.DataDir)
	line("Logs Dir", c.Paths.LogsDir)
	line("Docs Dir", c.Paths.DocsDir)
	line("User", c.Operator.Name)
	line("Organization", c.Operator.Organization)
	line("Role", c.Operator.Role)
	line("Engine Command", strings.Join(c.EngineCommand, " "))
	if c.Notify.URL != "" {
		line("Notify URL", c.Notify.URL)
	}

	keys := make([]string, 0, len(c.System))
	for k := range c.System {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line("System "+k, c.System[k])
	}
	if len(c.Sources) > 0 {
		line("Override Files", strings.Join(c.Sources, ", "))
	}
	return b.String()
}

// Overrides is the format-agnostic result of loading override files. A nil
// pointer or nil slice means "not set".
type Overrides struct {
	Method        *string
	Rank          *int
	Alpha         *int
	Dropout       *float64
	TargetModules []string

	Epochs          *int
	BatchSize       *int
	GradAccumSteps  *int
	LearningRate    *float64
	MaxSeqLength    *int
	WarmupSteps     *int
	LoggingSteps    *int
	SaveSteps       *int
	CheckpointLimit *int
	FP16            *bool
	Optimizer       *string

	DatasetVersion    *string
	DatasetPattern    *string
	RejectEmptyOutput *bool
	EncodeBatchSize   *int

	ModelsDir *string
	DataDir   *string
	LogsDir   *string
	DocsDir   *string

	OperatorName         *string
	OperatorOrganization *string
	OperatorRole         *string

	EngineCommand []string
	System        map[string]string
	DocsDomain    *string

	NotifyURL                *string
	NotifyNamespace          *string
	NotifyInsecureSkipVerify *bool

	// Sources lists the files the overrides were read from.
	Sources []string
}
