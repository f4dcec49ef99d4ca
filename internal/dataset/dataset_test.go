package dataset

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(buf *bytes.Buffer) context.Context {
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeCorpus(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestLoad_ConcatenatesInLexicalOrder(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	writeCorpus(t, filepath.Join(dataDir, "v1"), map[string]string{
		"b_queries.jsonl": `{"instruction":"b1","output":"B1"}` + "\n",
		"a_queries.jsonl": "\xef\xbb\xbf" + `{"instruction":"a1","input":"ctx","output":"A1"}` + "\n\n" +
			`{"instruction":"a2","output":"A2","extra":"ignored"}` + "\n",
		"notes.txt": "not a corpus file",
	})

	var logs bytes.Buffer
	res, err := Load(testContext(&logs), filepath.Join(dataDir, "v1"), Options{})
	require.NoError(t, err)

	want := []Example{
		{Instruction: "a1", Input: "ctx", Output: "A1"},
		{Instruction: "a2", Output: "A2"},
		{Instruction: "b1", Output: "B1"},
	}
	if diff := cmp.Diff(want, res.Examples); diff != "" {
		t.Errorf("examples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"a_queries.jsonl", "b_queries.jsonl"}, res.Files)
	assert.Equal(t, filepath.Join(dataDir, "v1"), res.Dir)
	assert.Contains(t, logs.String(), "count=2")
	assert.Contains(t, logs.String(), "name=a_queries.jsonl")
}

func TestLoad_MissingVersionDirectory(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()

	_, err := Load(testContext(&bytes.Buffer{}), filepath.Join(dataDir, "v1"), Options{})
	require.Error(t, err)
	assert.Equal(t, fault.DatasetNotFound, fault.KindOf(err))
	assert.Contains(t, err.Error(), filepath.Join(dataDir, "v1"))
}

func TestLoad_NoCorpusFiles(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	writeCorpus(t, filepath.Join(dataDir, "v1"), map[string]string{"readme.md": "#"})

	_, err := Load(testContext(&bytes.Buffer{}), filepath.Join(dataDir, "v1"), Options{})
	require.Error(t, err)
	assert.Equal(t, fault.DatasetEmpty, fault.KindOf(err))
}

func TestLoad_FilesWithoutRecords(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	writeCorpus(t, filepath.Join(dataDir, "v1"), map[string]string{"empty.jsonl": "\n  \n"})

	_, err := Load(testContext(&bytes.Buffer{}), filepath.Join(dataDir, "v1"), Options{})
	require.Error(t, err)
	assert.Equal(t, fault.DatasetEmpty, fault.KindOf(err))
}

func TestLoad_MalformedLineNamesLocation(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	writeCorpus(t, filepath.Join(dataDir, "v1"), map[string]string{
		"bad.jsonl": `{"instruction":"ok","output":"x"}` + "\n" + `{"instruction":` + "\n",
	})

	_, err := Load(testContext(&bytes.Buffer{}), filepath.Join(dataDir, "v1"), Options{})
	require.Error(t, err)
	assert.Equal(t, fault.DatasetInvalid, fault.KindOf(err))
	assert.Contains(t, err.Error(), "bad.jsonl:2")
}

func TestLoad_EmptyOutputs(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	writeCorpus(t, filepath.Join(dataDir, "v1"), map[string]string{
		"data.jsonl": `{"instruction":"a","output":""}` + "\n" + `{"instruction":"b","output":"B"}` + "\n",
	})

	t.Run("accepted and counted by default", func(t *testing.T) {
		var logs bytes.Buffer
		res, err := Load(testContext(&logs), filepath.Join(dataDir, "v1"), Options{})
		require.NoError(t, err)
		assert.Len(t, res.Examples, 2)
		assert.Equal(t, 1, res.EmptyOutputs)
		assert.Contains(t, logs.String(), "level=WARN")
	})

	t.Run("rejected when configured", func(t *testing.T) {
		_, err := Load(testContext(&bytes.Buffer{}), filepath.Join(dataDir, "v1"), Options{RejectEmptyOutput: true})
		require.Error(t, err)
		assert.Equal(t, fault.DatasetInvalid, fault.KindOf(err))
		assert.Contains(t, err.Error(), "data.jsonl:1")
	})
}

func TestLoad_CustomPattern(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	writeCorpus(t, filepath.Join(dataDir, "v3"), map[string]string{
		"a.ndjson": `{"instruction":"a","output":"A"}`,
		"b.jsonl":  `{"instruction":"b","output":"B"}`,
	})

	res, err := Load(testContext(&bytes.Buffer{}), filepath.Join(dataDir, "v3"), Options{Pattern: ".ndjson"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ndjson"}, res.Files)
}
