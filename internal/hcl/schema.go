package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block an override file may contain.
// Each block may appear at most once per file; unknown blocks are rejected.
type fileRoot struct {
	Adapter  *adapterBlock  `hcl:"adapter,block"`
	Schedule *scheduleBlock `hcl:"schedule,block"`
	Dataset  *datasetBlock  `hcl:"dataset,block"`
	Paths    *pathsBlock    `hcl:"paths,block"`
	Operator *operatorBlock `hcl:"operator,block"`
	Engine   *engineBlock   `hcl:"engine,block"`
	System   *freeformBlock `hcl:"system,block"`
	Docs     *docsBlock     `hcl:"docs,block"`
	Notify   *notifyBlock   `hcl:"notify,block"`
}

type adapterBlock struct {
	Method        *string   `hcl:"method,optional"`
	Rank          *int      `hcl:"rank,optional"`
	Alpha         *int      `hcl:"alpha,optional"`
	Dropout       *float64  `hcl:"dropout,optional"`
	TargetModules *[]string `hcl:"target_modules,optional"`
}

type scheduleBlock struct {
	Epochs          *int     `hcl:"epochs,optional"`
	BatchSize       *int     `hcl:"batch_size,optional"`
	GradAccumSteps  *int     `hcl:"grad_accum_steps,optional"`
	LearningRate    *float64 `hcl:"learning_rate,optional"`
	MaxSeqLength    *int     `hcl:"max_seq_length,optional"`
	WarmupSteps     *int     `hcl:"warmup_steps,optional"`
	LoggingSteps    *int     `hcl:"logging_steps,optional"`
	SaveSteps       *int     `hcl:"save_steps,optional"`
	CheckpointLimit *int     `hcl:"checkpoint_limit,optional"`
	FP16            *bool    `hcl:"fp16,optional"`
	Optimizer       *string  `hcl:"optimizer,optional"`
}

type datasetBlock struct {
	Version           *string `hcl:"version,optional"`
	Pattern           *string `hcl:"pattern,optional"`
	RejectEmptyOutput *bool   `hcl:"reject_empty_output,optional"`
	EncodeBatchSize   *int    `hcl:"encode_batch_size,optional"`
}

type pathsBlock struct {
	Models *string `hcl:"models,optional"`
	Data   *string `hcl:"data,optional"`
	Logs   *string `hcl:"logs,optional"`
	Docs   *string `hcl:"docs,optional"`
}

type operatorBlock struct {
	Name         *string `hcl:"name,optional"`
	Organization *string `hcl:"organization,optional"`
	Role         *string `hcl:"role,optional"`
}

type engineBlock struct {
	Command *[]string `hcl:"command,optional"`
}

type docsBlock struct {
	Domain *string `hcl:"domain,optional"`
}

type notifyBlock struct {
	URL                *string `hcl:"url,optional"`
	Namespace          *string `hcl:"namespace,optional"`
	InsecureSkipVerify *bool   `hcl:"insecure_skip_verify,optional"`
}

// freeformBlock captures arbitrary string attributes, such as system labels.
type freeformBlock struct {
	Body hcl.Body `hcl:",remain"`
}
