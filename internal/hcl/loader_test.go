package hcl

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeHCL(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_FullFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeHCL(t, dir, "finetune.hcl", `
adapter {
  rank           = 8
  alpha          = 16
  dropout        = 0.1
  target_modules = ["q_proj", "v_proj"]
}
schedule {
  epochs           = 2
  learning_rate    = 1e-4
  max_seq_length   = 512
  checkpoint_limit = 3
  fp16             = false
}
dataset {
  version             = "v2"
  reject_empty_output = true
}
paths {
  models = "out/Models"
}
operator {
  name = env.LORAPACK_TEST_USER
  role = "ML Engineer"
}
engine {
  command = ["python3", "train.py"]
}
system {
  gpu  = "RTX 4070"
  vram = 8
}
docs {
  domain = "BigQuery SQL"
}
notify {
  url       = "ws://localhost:3000/socket.io/"
  namespace = "/runs"
}
`)

	loader := NewLoader([]string{"LORAPACK_TEST_USER=ada", "NOT-AN-IDENT=x", "EMPTY="})
	o, err := loader.Load(testContext(), path)
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, 8, *o.Rank)
	assert.Equal(t, 16, *o.Alpha)
	assert.InDelta(t, 0.1, *o.Dropout, 1e-9)
	assert.Equal(t, []string{"q_proj", "v_proj"}, o.TargetModules)
	assert.Equal(t, 2, *o.Epochs)
	assert.InDelta(t, 1e-4, *o.LearningRate, 1e-12)
	assert.Equal(t, 512, *o.MaxSeqLength)
	assert.Equal(t, 3, *o.CheckpointLimit)
	assert.False(t, *o.FP16)
	assert.Nil(t, o.BatchSize)
	assert.Equal(t, "v2", *o.DatasetVersion)
	assert.True(t, *o.RejectEmptyOutput)
	assert.Equal(t, "out/Models", *o.ModelsDir)
	assert.Equal(t, "ada", *o.OperatorName)
	assert.Equal(t, "ML Engineer", *o.OperatorRole)
	assert.Nil(t, o.OperatorOrganization)
	assert.Equal(t, []string{"python3", "train.py"}, o.EngineCommand)
	assert.Equal(t, map[string]string{"gpu": "RTX 4070", "vram": "8"}, o.System)
	assert.Equal(t, "BigQuery SQL", *o.DocsDomain)
	assert.Equal(t, "ws://localhost:3000/socket.io/", *o.NotifyURL)
	assert.Equal(t, "/runs", *o.NotifyNamespace)
	assert.Nil(t, o.NotifyInsecureSkipVerify)
	assert.Equal(t, []string{path}, o.Sources)
}

func TestLoad_DirectoryMergesInLexicalOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeHCL(t, dir, "a.hcl", `
adapter {
  rank = 4
}
dataset {
  version = "v1"
}`)
	writeHCL(t, dir, "b.hcl", `
adapter {
  rank = 32
}`)

	o, err := NewLoader(nil).Load(testContext(), dir)
	require.NoError(t, err)

	assert.Equal(t, 32, *o.Rank, "later file wins")
	assert.Equal(t, "v1", *o.DatasetVersion, "earlier values survive when not overridden")
	assert.Len(t, o.Sources, 2)
}

func TestLoad_MissingPathYieldsNil(t *testing.T) {
	t.Parallel()

	o, err := NewLoader(nil).Load(testContext(), filepath.Join(t.TempDir(), "finetune.hcl"))
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"syntax error", "adapter {\n rank = \n", "failed to parse HCL file"},
		{"unknown block", "trainer {\n}\n", "failed to decode HCL file"},
		{"wrong type", "adapter {\n rank = \"high\"\n}\n", "failed to decode HCL file"},
		{"unknown env var", "operator {\n name = env.NOPE\n}\n", "failed to decode HCL file"},
		{"non-scalar system label", "system {\n gpu = [1, 2]\n}\n", "system block"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeHCL(t, t.TempDir(), "bad.hcl", tc.content)
			_, err := NewLoader(nil).Load(testContext(), path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoader_FeedsResolver(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeHCL(t, dir, "finetune.hcl", `
schedule {
  max_seq_length = 256
}`)

	o, err := NewLoader(nil).Load(testContext(), path)
	require.NoError(t, err)

	cfg, missing := config.Resolve(config.ResolveInput{Overrides: o, ModelPath: "base", WorkDir: dir})
	assert.Equal(t, 256, cfg.Schedule.MaxSeqLength)
	assert.Equal(t, 16, cfg.Adapter.Rank)
	assert.Len(t, missing, 3, "only identity variables are missing")
}
