package config

import (
	"path/filepath"
	"sort"
)

// Environment variables that carry the operator identity.
const (
	EnvOperatorName         = "DEVELOPER_NAME"
	EnvOperatorOrganization = "ORGANIZATION"
	EnvOperatorRole         = "ROLE"
)

// Sentinel identity values used when no source provides one.
const (
	UnknownName         = "Unknown Developer"
	UnknownOrganization = "Unknown Organization"
	UnknownRole         = "Unknown Role"
)

// Defaults returns the compiled-in configuration, before paths and identity
// are resolved.
func Defaults() RunConfiguration {
	return RunConfiguration{
		Adapter: Adapter{
			Method:        "LoRA",
			Rank:          16,
			Alpha:         32,
			Dropout:       0.05,
			TargetModules: []string{"k_proj", "o_proj", "q_proj", "v_proj"},
		},
		Schedule: Schedule{
			Epochs:          3,
			BatchSize:       4,
			GradAccumSteps:  4,
			LearningRate:    2e-4,
			MaxSeqLength:    2048,
			WarmupSteps:     100,
			LoggingSteps:    10,
			SaveSteps:       100,
			CheckpointLimit: 2,
			FP16:            true,
			Optimizer:       "adamw_torch",
		},
		Dataset: Dataset{
			Version:         "v1",
			Pattern:         ".jsonl",
			EncodeBatchSize: 1000,
		},
		Paths: Paths{
			ModelsDir: "Models",
			DataDir:   "training data",
			LogsDir:   "logs",
		},
		System: map[string]string{},
	}
}

// ResolveInput gathers the sources Resolve layers over the defaults.
type ResolveInput struct {
	// Overrides from the override file; nil when none was found.
	Overrides *Overrides
	// Getenv looks up environment variables, usually os.Getenv.
	Getenv func(string) string
	// ModelPath is the base-model directory given on the command line.
	ModelPath string
	// WorkDir anchors relative paths.
	WorkDir string
}

// Resolve builds the run configuration. It never fails: absent sources
// degrade to defaults and are reported as missing-configuration notices.
func Resolve(in ResolveInput) (RunConfiguration, []string) {
	cfg := Defaults()
	var missing []string

	o := in.Overrides
	if o == nil {
		missing = append(missing, "no override file found; using compiled-in defaults")
		o = &Overrides{}
	}
	applyOverrides(&cfg, o)

	getenv := in.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	identity := []struct {
		env      string
		override *string
		sentinel string
		target   *string
	}{
		{EnvOperatorName, o.OperatorName, UnknownName, &cfg.Operator.Name},
		{EnvOperatorOrganization, o.OperatorOrganization, UnknownOrganization, &cfg.Operator.Organization},
		{EnvOperatorRole, o.OperatorRole, UnknownRole, &cfg.Operator.Role},
	}
	for _, id := range identity {
		switch {
		case getenv(id.env) != "":
			*id.target = getenv(id.env)
		case id.override != nil && *id.override != "":
			*id.target = *id.override
		default:
			*id.target = id.sentinel
			missing = append(missing, id.env+" is not set; using "+id.sentinel)
		}
	}

	cfg.ModelPath = filepath.Clean(in.ModelPath)
	cfg.ModelName = filepath.Base(cfg.ModelPath)

	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(in.WorkDir, p)
	}
	cfg.Paths.ModelsDir = anchor(cfg.Paths.ModelsDir)
	cfg.Paths.DataDir = anchor(cfg.Paths.DataDir)
	cfg.Paths.LogsDir = anchor(cfg.Paths.LogsDir)
	if cfg.Paths.DocsDir == "" {
		cfg.Paths.DocsDir = cfg.Paths.ModelsDir
	} else {
		cfg.Paths.DocsDir = anchor(cfg.Paths.DocsDir)
	}

	cfg.Adapter.TargetModules = normalizeModules(cfg.Adapter.TargetModules)
	return cfg, missing
}

func applyOverrides(cfg *RunConfiguration, o *Overrides) {
	setString(&cfg.Adapter.Method, o.Method)
	setInt(&cfg.Adapter.Rank, o.Rank)
	setInt(&cfg.Adapter.Alpha, o.Alpha)
	setFloat(&cfg.Adapter.Dropout, o.Dropout)
	if o.TargetModules != nil {
		cfg.Adapter.TargetModules = append([]string(nil), o.TargetModules...)
	}

	setInt(&cfg.Schedule.Epochs, o.Epochs)
	setInt(&cfg.Schedule.BatchSize, o.BatchSize)
	setInt(&cfg.Schedule.GradAccumSteps, o.GradAccumSteps)
	setFloat(&cfg.Schedule.LearningRate, o.LearningRate)
	setInt(&cfg.Schedule.MaxSeqLength, o.MaxSeqLength)
	setInt(&cfg.Schedule.WarmupSteps, o.WarmupSteps)
	setInt(&cfg.Schedule.LoggingSteps, o.LoggingSteps)
	setInt(&cfg.Schedule.SaveSteps, o.SaveSteps)
	setInt(&cfg.Schedule.CheckpointLimit, o.CheckpointLimit)
	if o.FP16 != nil {
		cfg.Schedule.FP16 = *o.FP16
	}
	setString(&cfg.Schedule.Optimizer, o.Optimizer)

	setString(&cfg.Dataset.Version, o.DatasetVersion)
	setString(&cfg.Dataset.Pattern, o.DatasetPattern)
	if o.RejectEmptyOutput != nil {
		cfg.Dataset.RejectEmptyOutput = *o.RejectEmptyOutput
	}
	setInt(&cfg.Dataset.EncodeBatchSize, o.EncodeBatchSize)

	setString(&cfg.Paths.ModelsDir, o.ModelsDir)
	setString(&cfg.Paths.DataDir, o.DataDir)
	setString(&cfg.Paths.LogsDir, o.LogsDir)
	setString(&cfg.Paths.DocsDir, o.DocsDir)

	if o.EngineCommand != nil {
		cfg.EngineCommand = append([]string(nil), o.EngineCommand...)
	}
	for k, v := range o.System {
		cfg.System[k] = v
	}
	setString(&cfg.DocsDomain, o.DocsDomain)
	setString(&cfg.Notify.URL, o.NotifyURL)
	setString(&cfg.Notify.Namespace, o.NotifyNamespace)
	if o.NotifyInsecureSkipVerify != nil {
		cfg.Notify.InsecureSkipVerify = *o.NotifyInsecureSkipVerify
	}
	cfg.Sources = append([]string(nil), o.Sources...)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func normalizeModules(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
