// Package prompt renders training examples into the instruction template
// the fine-tuned model is trained on. The template shape is part of the
// artifact's contract: consumers must prompt the model the same way.
package prompt

import "github.com/specialistvlad/lorapack/internal/dataset"

// TemplateVersion identifies the template below; it is recorded in the
// artifact metadata.
const TemplateVersion = "alpaca-v1"

// Section headers, in template order.
const (
	InstructionHeader = "### Instruction:"
	InputHeader       = "### Input:"
	ResponseHeader    = "### Response:"
)

// Formatted is the training text of one example.
type Formatted struct {
	Text string
}

// Format renders ex. With a non-empty input the text has three sections
// (Instruction, Input, Response); otherwise two (Instruction, Response).
func Format(ex dataset.Example) Formatted {
	if ex.Input != "" {
		return Formatted{Text: InstructionHeader + "\n" + ex.Instruction + "\n\n" +
			InputHeader + "\n" + ex.Input + "\n\n" +
			ResponseHeader + "\n" + ex.Output}
	}
	return Formatted{Text: InstructionHeader + "\n" + ex.Instruction + "\n\n" +
		ResponseHeader + "\n" + ex.Output}
}

// FormatAll formats examples preserving order.
func FormatAll(examples []dataset.Example) []Formatted {
	out := make([]Formatted, len(examples))
	for i, ex := range examples {
		out[i] = Format(ex)
	}
	return out
}
