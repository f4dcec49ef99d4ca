package adapter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/specialistvlad/lorapack/internal/fault"
)

// ConfigFile is the base model architecture file.
const ConfigFile = "config.json"

// ModuleKind classifies a parameterized module of the base model.
type ModuleKind int

const (
	Linear ModuleKind = iota
	Embedding
	Norm
)

func (k ModuleKind) String() string {
	switch k {
	case Linear:
		return "linear"
	case Embedding:
		return "embedding"
	case Norm:
		return "norm"
	default:
		return fmt.Sprintf("ModuleKind(%d)", int(k))
	}
}

// Module is one named, parameterized module of the base model.
type Module struct {
	Name   string
	Kind   ModuleKind
	In     int
	Out    int
	Bias   bool
	Params int64
}

// Leaf returns the last dotted segment of the module name, the name adapter
// target lists refer to.
func (m Module) Leaf() string {
	if i := strings.LastIndexByte(m.Name, '.'); i >= 0 {
		return m.Name[i+1:]
	}
	return m.Name
}

// architecture is the subset of config.json that determines the module
// inventory of a decoder-only transformer.
type architecture struct {
	ModelType         string   `json:"model_type"`
	Architectures     []string `json:"architectures"`
	HiddenSize        int      `json:"hidden_size"`
	IntermediateSize  int      `json:"intermediate_size"`
	NumHiddenLayers   int      `json:"num_hidden_layers"`
	NumAttentionHeads int      `json:"num_attention_heads"`
	NumKeyValueHeads  int      `json:"num_key_value_heads"`
	HeadDim           int      `json:"head_dim"`
	VocabSize         int      `json:"vocab_size"`
	TieWordEmbeddings bool     `json:"tie_word_embeddings"`
	AttentionBias     bool     `json:"attention_bias"`
}

// BaseModel is the loaded, frozen base model.
type BaseModel struct {
	Dir          string
	Architecture string
	Modules      []Module
}

// TotalParams sums the parameters of every module.
func (b *BaseModel) TotalParams() int64 {
	var n int64
	for _, m := range b.Modules {
		n += m.Params
	}
	return n
}

// LinearLeaves returns the distinct leaf names of linear modules in
// inventory order.
func (b *BaseModel) LinearLeaves() []string {
	seen := make(map[string]bool)
	var leaves []string
	for _, m := range b.Modules {
		if m.Kind != Linear || seen[m.Leaf()] {
			continue
		}
		seen[m.Leaf()] = true
		leaves = append(leaves, m.Leaf())
	}
	return leaves
}

// LoadBaseModel reads the architecture in dir/config.json and builds the
// module inventory. Any failure is a ModelLoadFailure.
func LoadBaseModel(dir string) (*BaseModel, error) {
	path := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fault.Newf(fault.ModelLoadFailure, stage, "base model has no %s: %s", ConfigFile, dir)
		}
		return nil, fault.New(fault.ModelLoadFailure, stage, fmt.Errorf("failed to read %s: %w", path, err))
	}

	var arch architecture
	if err := json.Unmarshal(data, &arch); err != nil {
		return nil, fault.New(fault.ModelLoadFailure, stage, fmt.Errorf("failed to parse %s: %w", path, err))
	}
	modules, err := arch.inventory()
	if err != nil {
		return nil, fault.New(fault.ModelLoadFailure, stage, fmt.Errorf("%s: %w", path, err))
	}

	name := arch.ModelType
	if len(arch.Architectures) > 0 {
		name = arch.Architectures[0]
	}
	return &BaseModel{Dir: dir, Architecture: name, Modules: modules}, nil
}

func (a architecture) inventory() ([]Module, error) {
	switch {
	case a.HiddenSize <= 0:
		return nil, errors.New("hidden_size must be positive")
	case a.NumHiddenLayers <= 0:
		return nil, errors.New("num_hidden_layers must be positive")
	case a.NumAttentionHeads <= 0:
		return nil, errors.New("num_attention_heads must be positive")
	case a.VocabSize <= 0:
		return nil, errors.New("vocab_size must be positive")
	}

	h := a.HiddenSize
	inter := a.IntermediateSize
	if inter <= 0 {
		inter = 4 * h
	}
	kvHeads := a.NumKeyValueHeads
	if kvHeads <= 0 {
		kvHeads = a.NumAttentionHeads
	}
	headDim := a.HeadDim
	if headDim <= 0 {
		headDim = h / a.NumAttentionHeads
	}
	qOut := a.NumAttentionHeads * headDim
	kvOut := kvHeads * headDim

	modules := []Module{embedding("model.embed_tokens", a.VocabSize, h)}
	for i := 0; i < a.NumHiddenLayers; i++ {
		p := fmt.Sprintf("model.layers.%d.", i)
		modules = append(modules,
			linear(p+"self_attn.q_proj", h, qOut, a.AttentionBias),
			linear(p+"self_attn.k_proj", h, kvOut, a.AttentionBias),
			linear(p+"self_attn.v_proj", h, kvOut, a.AttentionBias),
			linear(p+"self_attn.o_proj", qOut, h, false),
			linear(p+"mlp.gate_proj", h, inter, false),
			linear(p+"mlp.up_proj", h, inter, false),
			linear(p+"mlp.down_proj", inter, h, false),
			norm(p+"input_layernorm", h),
			norm(p+"post_attention_layernorm", h),
		)
	}
	modules = append(modules, norm("model.norm", h))
	if !a.TieWordEmbeddings {
		modules = append(modules, linear("lm_head", h, a.VocabSize, false))
	}
	return modules, nil
}

func linear(name string, in, out int, bias bool) Module {
	params := int64(in) * int64(out)
	if bias {
		params += int64(out)
	}
	return Module{Name: name, Kind: Linear, In: in, Out: out, Bias: bias, Params: params}
}

func embedding(name string, vocab, dim int) Module {
	return Module{Name: name, Kind: Embedding, In: vocab, Out: dim, Params: int64(vocab) * int64(dim)}
}

func norm(name string, dim int) Module {
	return Module{Name: name, Kind: Norm, In: dim, Out: dim, Params: int64(dim)}
}
