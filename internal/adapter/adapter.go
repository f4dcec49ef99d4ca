// Package adapter wraps a frozen base model with trainable low-rank
// adapters on a chosen set of linear modules.
package adapter

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fault"
)

const stage = "loading"

const (
	BiasNone      = "none"
	TaskCausalLM  = "CAUSAL_LM"
	DefaultMethod = "LoRA"
)

// Spec is the adapter configuration, serialized with the field names
// adapter runtimes expect.
type Spec struct {
	Method        string   `json:"method"`
	Rank          int      `json:"r"`
	Alpha         int      `json:"lora_alpha"`
	Dropout       float64  `json:"lora_dropout"`
	TargetModules []string `json:"target_modules"`
	Bias          string   `json:"bias"`
	TaskType      string   `json:"task_type"`
}

// SpecFrom derives the adapter spec of a run.
func SpecFrom(a config.Adapter) Spec {
	method := a.Method
	if method == "" {
		method = DefaultMethod
	}
	return Spec{
		Method:        method,
		Rank:          a.Rank,
		Alpha:         a.Alpha,
		Dropout:       a.Dropout,
		TargetModules: slices.Clone(a.TargetModules),
		Bias:          BiasNone,
		TaskType:      TaskCausalLM,
	}
}

// Injection is one adapter pair attached to a base module.
type Injection struct {
	Module string
	Params int64
}

// Model is a base model with adapters applied. Only adapter parameters are
// trainable.
type Model struct {
	Base      *BaseModel
	Spec      Spec
	Adapted   []Injection
	Trainable int64
	Total     int64
}

// TrainablePercent is the trainable share of all parameters.
func (m *Model) TrainablePercent() float64 {
	if m.Total == 0 {
		return 0
	}
	return 100 * float64(m.Trainable) / float64(m.Total)
}

// Apply freezes base and inserts rank-r A/B matrices, r*(in+out)
// parameters, on every linear module whose leaf name is targeted. It fails
// with AdapterMisconfigured when nothing ends up trainable.
func Apply(ctx context.Context, base *BaseModel, spec Spec) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	if spec.Rank <= 0 {
		return nil, fault.Newf(fault.AdapterMisconfigured, stage, "adapter rank must be positive, got %d", spec.Rank)
	}

	targets := make(map[string]bool, len(spec.TargetModules))
	for _, t := range spec.TargetModules {
		targets[t] = true
	}

	m := &Model{Base: base, Spec: spec}
	for _, mod := range base.Modules {
		if mod.Kind != Linear || !targets[mod.Leaf()] {
			continue
		}
		params := int64(spec.Rank) * int64(mod.In+mod.Out)
		m.Adapted = append(m.Adapted, Injection{Module: mod.Name, Params: params})
		m.Trainable += params
	}
	m.Total = base.TotalParams() + m.Trainable

	if m.Trainable == 0 {
		return nil, fault.Newf(fault.AdapterMisconfigured, stage,
			"no trainable parameters: target modules [%s] match none of [%s]",
			strings.Join(spec.TargetModules, ", "), strings.Join(base.LinearLeaves(), ", "))
	}

	logger.Info("Applied adapters.", "method", spec.Method, "rank", spec.Rank, "alpha", spec.Alpha, "modules", len(m.Adapted))
	logger.Info(fmt.Sprintf("trainable params: %d || all params: %d || trainable%%: %.4f",
		m.Trainable, m.Total, m.TrainablePercent()))
	return m, nil
}
