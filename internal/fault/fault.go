// Package fault defines the error taxonomy of a fine-tuning run. Every
// stage reports failures as *Error values carrying a Kind, the stage name
// and the stack at the failure site, so the top-level handler can decide
// between an operator diagnostic and a crash report without inspecting
// message text.
package fault

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Kind classifies a failure.
type Kind int

const (
	Unexpected Kind = iota
	ConfigurationMissing
	ConfigurationInvalid
	ModelPathNotFound
	DatasetNotFound
	DatasetEmpty
	DatasetInvalid
	ModelLoadFailure
	AdapterMisconfigured
	TokenizationFailure
	TrainingFailure
	ArtifactWriteFailure
	DocumentationWriteFailure
)

var kindNames = map[Kind]string{
	Unexpected:                "Unexpected",
	ConfigurationMissing:      "ConfigurationMissing",
	ConfigurationInvalid:      "ConfigurationInvalid",
	ModelPathNotFound:         "ModelPathNotFound",
	DatasetNotFound:           "DatasetNotFound",
	DatasetEmpty:              "DatasetEmpty",
	DatasetInvalid:            "DatasetInvalid",
	ModelLoadFailure:          "ModelLoadFailure",
	AdapterMisconfigured:      "AdapterMisconfigured",
	TokenizationFailure:       "TokenizationFailure",
	TrainingFailure:           "TrainingFailure",
	ArtifactWriteFailure:      "ArtifactWriteFailure",
	DocumentationWriteFailure: "DocumentationWriteFailure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fatal reports whether a failure of this kind ends the run.
func (k Kind) Fatal() bool {
	switch k {
	case ConfigurationMissing, DocumentationWriteFailure:
		return false
	default:
		return true
	}
}

// Preflight reports whether the kind is an operator-correctable input
// problem. Pre-flight failures exit non-zero without a crash report.
func (k Kind) Preflight() bool {
	switch k {
	case ConfigurationInvalid, ModelPathNotFound, DatasetNotFound, DatasetEmpty, DatasetInvalid:
		return true
	default:
		return false
	}
}

// Error is a classified failure raised by a pipeline stage.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
	Stack []byte
}

// New classifies err and captures the caller's stack.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err, Stack: debug.Stack()}
}

// Newf is New with a formatted message.
func Newf(kind Kind, stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...), Stack: debug.Stack()}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or
// Unexpected when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unexpected
}

// StackOf returns the stack recorded with err, or nil.
func StackOf(err error) []byte {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stack
	}
	return nil
}

// StageOf returns the stage recorded with err, or "".
func StageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}

// IsPreflight reports whether err is an operator-correctable input failure.
func IsPreflight(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind.Preflight()
}
