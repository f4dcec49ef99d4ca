// Package encoder turns formatted training texts into fixed-length token
// sequences.
package encoder

import (
	"context"
	"fmt"

	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/specialistvlad/lorapack/internal/tokenizer"
)

const stage = "encoding"

// DefaultBatchSize is used when EncodeBatch receives a non-positive batch
// size.
const DefaultBatchSize = 1000

// Encoded is one tokenized training sequence. Both slices have the
// encoder's maximum length. Text is the formatted input they were produced
// from.
type Encoded struct {
	Text          string `json:"text"`
	TokenIDs      []int  `json:"input_ids"`
	AttentionMask []int  `json:"attention_mask"`
}

// Encoder pads and truncates tokenizer output to a fixed length.
type Encoder struct {
	tok      tokenizer.Tokenizer
	maxLen   int
	padID    int
	padToEOS bool
}

// New returns an Encoder producing sequences of exactly maxLen tokens. When
// tok defines no padding token, the end-of-sequence token is made the
// padding token on tok itself so its saved state agrees with the encoded
// data.
func New(tok tokenizer.Tokenizer, maxLen int) (*Encoder, error) {
	if maxLen <= 0 {
		return nil, fault.Newf(fault.TokenizationFailure, stage, "max sequence length must be positive, got %d", maxLen)
	}
	e := &Encoder{tok: tok, maxLen: maxLen}
	pad, ok := tok.PadID()
	if !ok {
		tok.SetPadToEOS()
		pad = tok.EOSID()
		e.padToEOS = true
	}
	e.padID = pad
	return e, nil
}

// PadID returns the padding token ID in use.
func (e *Encoder) PadID() int { return e.padID }

// MaxLen returns the sequence length.
func (e *Encoder) MaxLen() int { return e.maxLen }

// PadsWithEOS reports whether New made the end-of-sequence token the
// padding token.
func (e *Encoder) PadsWithEOS() bool { return e.padToEOS }

// Encode tokenizes a single text.
func (e *Encoder) Encode(text string) (Encoded, error) {
	ids, err := e.tok.Encode(text)
	if err != nil {
		return Encoded{}, err
	}

	out := Encoded{
		Text:          text,
		TokenIDs:      make([]int, e.maxLen),
		AttentionMask: make([]int, e.maxLen),
	}
	n := copy(out.TokenIDs, ids)
	for i := 0; i < n; i++ {
		out.AttentionMask[i] = 1
	}
	for i := n; i < e.maxLen; i++ {
		out.TokenIDs[i] = e.padID
	}
	return out, nil
}

// EncodeBatch encodes texts in batches of batchSize, preserving order. The
// context is checked between batches.
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([]Encoded, error) {
	logger := ctxlog.FromContext(ctx)
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make([]Encoded, 0, len(texts))
	truncated := 0
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(texts))
		for i := start; i < end; i++ {
			enc, err := e.Encode(texts[i])
			if err != nil {
				return nil, fault.New(fault.TokenizationFailure, stage, fmt.Errorf("example %d: %w", i, err))
			}
			if enc.AttentionMask[e.maxLen-1] == 1 {
				truncated++
			}
			out = append(out, enc)
		}
		logger.Debug("Encoded batch.", "from", start, "to", end, "total", len(texts))
	}

	if truncated > 0 {
		logger.Info("Sequences filled or truncated to the maximum length.", "count", truncated, "max_length", e.maxLen)
	}
	logger.Info("Tokenized examples.", "count", len(out), "max_length", e.maxLen)
	return out, nil
}
