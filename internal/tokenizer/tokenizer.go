// Package tokenizer defines the encode contract the pipeline consumes and a
// byte-level implementation that follows the special tokens of a base
// model's tokenizer_config.json.
package tokenizer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/specialistvlad/lorapack/internal/fsutil"
)

// Tokenizer is the stable contract between the pipeline and a tokenizer.
type Tokenizer interface {
	// Encode maps text to token IDs without truncation or padding.
	Encode(text string) ([]int, error)
	// EOSID returns the end-of-sequence token ID.
	EOSID() int
	// PadID returns the padding token ID, if the tokenizer defines one.
	PadID() (int, bool)
	// SetPadToEOS makes the end-of-sequence token the padding token.
	SetPadToEOS()
	// Save writes the tokenizer state into dir and returns the file names
	// it wrote.
	Save(dir string) ([]string, error)
}

// ConfigFile is the tokenizer configuration file name.
const ConfigFile = "tokenizer_config.json"

// DefaultEOSToken is used when the base model declares no eos_token.
const DefaultEOSToken = "<|endoftext|>"

// auxiliaryFiles are copied verbatim from the base model when present.
var auxiliaryFiles = []string{
	"tokenizer.json",
	"tokenizer.model",
	"vocab.json",
	"merges.txt",
	"special_tokens_map.json",
	"added_tokens.json",
}

const (
	byteVocab = 256
	eosID     = byteVocab
	padID     = byteVocab + 1
)

// ByteLevel encodes UTF-8 text as one token per byte. IDs 0-255 are the
// bytes; the end-of-sequence token is 256 and a distinct padding token, if
// the base model declares one, is 257.
type ByteLevel struct {
	sourceDir string
	raw       map[string]any
	eosToken  string
	padToken  string
	padIsEOS  bool
}

// Load reads the special tokens of the tokenizer stored in modelDir. A
// missing tokenizer_config.json yields a tokenizer with the default EOS
// token and no padding token.
func Load(modelDir string) (*ByteLevel, error) {
	t := &ByteLevel{sourceDir: modelDir, eosToken: DefaultEOSToken}

	data, err := os.ReadFile(filepath.Join(modelDir, ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFile, err)
	}
	t.raw = raw

	var special struct {
		EOS jsontext.Value `json:"eos_token"`
		Pad jsontext.Value `json:"pad_token"`
	}
	if err := json.Unmarshal(data, &special); err != nil {
		return nil, fmt.Errorf("failed to parse special tokens in %s: %w", ConfigFile, err)
	}
	if eos, err := tokenContent(special.EOS); err != nil {
		return nil, fmt.Errorf("eos_token: %w", err)
	} else if eos != "" {
		t.eosToken = eos
	}
	pad, err := tokenContent(special.Pad)
	if err != nil {
		return nil, fmt.Errorf("pad_token: %w", err)
	}
	t.padToken = pad
	t.padIsEOS = pad != "" && pad == t.eosToken
	return t, nil
}

// tokenContent accepts a special token written either as a string or as an
// AddedToken object with a "content" member.
func tokenContent(v jsontext.Value) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return "", nil
	}
	switch v.Kind() {
	case '"':
		var s string
		err := json.Unmarshal(v, &s)
		return s, err
	case '{':
		var obj struct {
			Content string `json:"content"`
		}
		err := json.Unmarshal(v, &obj)
		return obj.Content, err
	default:
		return "", fmt.Errorf("unsupported token value %s", v)
	}
}

// Encode implements Tokenizer.
func (t *ByteLevel) Encode(text string) ([]int, error) {
	if !utf8.ValidString(text) {
		return nil, errors.New("text is not valid UTF-8")
	}
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

// EOSID implements Tokenizer.
func (t *ByteLevel) EOSID() int { return eosID }

// PadID implements Tokenizer.
func (t *ByteLevel) PadID() (int, bool) {
	switch {
	case t.padIsEOS:
		return eosID, true
	case t.padToken != "":
		return padID, true
	default:
		return 0, false
	}
}

// SetPadToEOS implements Tokenizer.
func (t *ByteLevel) SetPadToEOS() {
	t.padToken = t.eosToken
	t.padIsEOS = true
}

// EOSToken returns the end-of-sequence token text.
func (t *ByteLevel) EOSToken() string { return t.eosToken }

// PadToken returns the padding token text, or "" when undefined.
func (t *ByteLevel) PadToken() string { return t.padToken }

// specialToken returns the base model's value for key when it still names
// text, so AddedToken flags such as lstrip survive a save. Otherwise it
// returns text.
func (t *ByteLevel) specialToken(key, text string) (any, bool) {
	switch v := t.raw[key].(type) {
	case string:
		if v == text {
			return v, true
		}
	case map[string]any:
		if content, _ := v["content"].(string); content == text {
			return v, true
		}
	}
	return text, false
}

// Save implements Tokenizer. It copies the base model's auxiliary
// tokenizer files and writes tokenizer_config.json with the current special
// tokens, preserving every other key of the original configuration.
func (t *ByteLevel) Save(dir string) ([]string, error) {
	var written []string
	for _, name := range auxiliaryFiles {
		src := filepath.Join(t.sourceDir, name)
		if !fsutil.Exists(src) {
			continue
		}
		if err := fsutil.CopyFile(src, filepath.Join(dir, name)); err != nil {
			return written, fmt.Errorf("failed to save %s: %w", name, err)
		}
		written = append(written, name)
	}

	cfg := make(map[string]any, len(t.raw)+3)
	for k, v := range t.raw {
		cfg[k] = v
	}
	if _, ok := cfg["tokenizer_class"]; !ok {
		cfg["tokenizer_class"] = "ByteLevel"
	}
	eos, _ := t.specialToken("eos_token", t.eosToken)
	cfg["eos_token"] = eos
	if t.padToken != "" {
		pad, kept := t.specialToken("pad_token", t.padToken)
		if !kept && t.padIsEOS {
			pad = eos
		}
		cfg["pad_token"] = pad
	}

	data, err := json.Marshal(cfg, json.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return written, fmt.Errorf("failed to encode %s: %w", ConfigFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), append(data, '\n'), 0o644); err != nil {
		return written, fmt.Errorf("failed to save %s: %w", ConfigFile, err)
	}
	return append(written, ConfigFile), nil
}
