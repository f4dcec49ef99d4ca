package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/specialistvlad/lorapack/internal/app"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// ExitFor maps the outcome of a run to a process exit status. A nil error
// maps to nil.
func ExitFor(err error) *ExitError {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if errors.Is(err, context.Canceled) {
		return &ExitError{Code: ExitInterrupted, Message: "interrupted"}
	}
	return &ExitError{Code: ExitFailure, Message: err.Error()}
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet(app.ProgramName, flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
lorapack - Fine-tune a local causal language model with a LoRA adapter.

Usage:
  lorapack [options] MODEL_PATH

Arguments:
  MODEL_PATH
    Directory holding the base model weights, config.json and tokenizer files.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Override file or directory of .hcl files. Defaults to finetune.hcl in the working directory.")
	workDirFlag := flagSet.String("workdir", ".", "Directory that relative paths (training data, Models, logs) resolve against.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	yesFlag := flagSet.Bool("yes", false, "Continue without prompting when no accelerator is detected.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, false, &ExitError{Code: ExitUsage, Message: "MODEL_PATH is required"}
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("expected one MODEL_PATH, got %d arguments", flagSet.NArg())}
	}
	modelPath := flagSet.Arg(0)
	slog.Debug("Model path determined.", "path", modelPath)

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	if _, ok := app.ParseLevel(logLevel); !ok {
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ModelPath:  modelPath,
		ConfigPath: *configFlag,
		WorkDir:    *workDirFlag,
		LogFormat:  logFormat,
		LogLevel:   logLevel,
		StatusPort: *statusPortFlag,
		AssumeYes:  *yesFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
