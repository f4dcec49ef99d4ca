package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/lorapack/internal/cli"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/stretchr/testify/require"
)

func TestRun_MalformedOverrideFile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// An override file with a syntax error is rejected before any stage runs.
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "finetune.hcl")
	err := os.WriteFile(filePath, []byte("adapter {\n  rank = \n"), 0600)
	require.NoError(t, err, "failed to set up test file")

	args := []string{"-workdir", tempDir, filepath.Join(tempDir, "Models", "base")}
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(context.Background(), strings.NewReader(""), out, args)

	// --- Assert ---
	require.Error(t, runErr)
	require.Equal(t, fault.ConfigurationInvalid, fault.KindOf(runErr))
	require.Contains(t, runErr.Error(), "failed to parse")
	require.Equal(t, cli.ExitFailure, cli.ExitFor(runErr).Code)
	require.NoDirExists(t, filepath.Join(tempDir, "logs"), "pre-flight failures must not write crash reports")
}

func TestRun_ModelPathNotFound(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	args := []string{"-workdir", tempDir, filepath.Join(tempDir, "Models", "missing")}
	out := &bytes.Buffer{}

	runErr := run(context.Background(), strings.NewReader(""), out, args)

	require.Error(t, runErr)
	require.Equal(t, fault.ModelPathNotFound, fault.KindOf(runErr))
	require.Equal(t, cli.ExitFailure, cli.ExitFor(runErr).Code)
}

func TestRun_DatasetNotFound(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The base model exists but the default dataset version does not.
	tempDir := t.TempDir()
	modelPath := filepath.Join(tempDir, "Models", "base")
	require.NoError(t, os.MkdirAll(modelPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelPath, "config.json"), []byte(`{"architectures":["LlamaForCausalLM"]}`), 0o644))
	missing := filepath.Join(tempDir, "training data", "v1")

	args := []string{"-workdir", tempDir, "-yes", modelPath}
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(context.Background(), strings.NewReader(""), out, args)

	// --- Assert ---
	require.Error(t, runErr)
	require.Equal(t, fault.DatasetNotFound, fault.KindOf(runErr))
	require.Equal(t, cli.ExitFailure, cli.ExitFor(runErr).Code)
	require.Contains(t, cli.ExitFor(runErr).Message, missing)
	require.NoDirExists(t, filepath.Join(tempDir, "logs"), "pre-flight failures must not write crash reports")
	require.NoDirExists(t, filepath.Join(tempDir, "Models", "base_ft_v1"))
	require.NoFileExists(t, filepath.Join(tempDir, "Models", "base_ft_v1.md"))
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	args := []string{"-h"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), strings.NewReader(""), out, args)

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// Providing an unknown flag will cause cli.Parse to return an error.
	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), strings.NewReader(""), out, args)

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
	require.Equal(t, cli.ExitUsage, cli.ExitFor(err).Code)
}
