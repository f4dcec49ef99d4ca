package engine

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/lorapack/internal/adapter"
	"github.com/specialistvlad/lorapack/internal/config"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/encoder"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the trainer's reader goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testContext(w *syncBuffer) context.Context {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell trainer scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "trainer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func testJob(t *testing.T) Job {
	return Job{
		RunID:        "run-1",
		BaseModel:    "/models/base",
		Adapter:      adapter.Spec{Method: "LoRA", Rank: 16, Alpha: 32, TargetModules: []string{"q_proj"}, Bias: "none", TaskType: "CAUSAL_LM"},
		Schedule:     Schedule{Objective: ObjectiveCausalLM, Epochs: 1, BatchSize: 1, SaveTotalLimit: 2},
		Tokenization: Tokenization{MaxLength: 3, Padding: "max_length", Truncation: true, PadToEOS: true},
		Dir:          t.TempDir(),
		Examples: []encoder.Encoded{
			{Text: "hi", TokenIDs: []int{104, 105, 0}, AttentionMask: []int{1, 1, 0}},
			{Text: "é", TokenIDs: []int{195, 169, 0}, AttentionMask: []int{1, 1, 0}},
		},
	}
}

const happyTrainer = `
[ "$1" = "--job" ] || exit 3
test -f "$2" || exit 4
echo '{"event":"log","step":10,"loss":1.5}'
echo 'plain progress text'
mkdir -p "$LORAPACK_OUTPUT_DIR/checkpoint-100"
echo '{"event":"checkpoint","step":100,"path":"checkpoint-100"}'
echo 'warming up' >&2
printf 'w' > "$LORAPACK_WEIGHTS_DIR/adapter_model.safetensors"
printf '{}' > "$LORAPACK_WEIGHTS_DIR/adapter_config.json"
`

func TestExecTrainer_Success(t *testing.T) {
	t.Parallel()
	var logs syncBuffer
	job := testJob(t)
	var events []Event
	job.OnEvent = func(ev Event) { events = append(events, ev) }

	trainer := &ExecTrainer{Command: []string{"/bin/sh", writeScript(t, happyTrainer)}}
	w, err := trainer.Train(testContext(&logs), job)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(job.Dir, WeightsDir), w.Dir)
	assert.Equal(t, []string{"adapter_config.json", "adapter_model.safetensors"}, w.Files)

	want := []Event{
		{Event: EventLog, Step: 10, Loss: 1.5},
		{Event: EventCheckpoint, Step: 100, Path: filepath.Join(job.Dir, "checkpoint-100")},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, logs.String(), "plain progress text")
	assert.Contains(t, logs.String(), "warming up")
}

func TestExecTrainer_WritesJobAndDataset(t *testing.T) {
	t.Parallel()
	job := testJob(t)

	trainer := &ExecTrainer{Command: []string{"/bin/sh", writeScript(t, happyTrainer)}}
	_, err := trainer.Train(testContext(&syncBuffer{}), job)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(job.Dir, JobFile))
	require.NoError(t, err)
	var jf jobFile
	require.NoError(t, json.Unmarshal(data, &jf))
	assert.Equal(t, "run-1", jf.RunID)
	assert.Equal(t, 2, jf.Examples)
	assert.Equal(t, 16, jf.Adapter.Rank)
	assert.Equal(t, ObjectiveCausalLM, jf.Schedule.Objective)
	assert.False(t, jf.Schedule.MaskInputs)
	assert.Contains(t, string(data), `"lora_alpha": 32`)
	assert.Equal(t, Tokenization{MaxLength: 3, Padding: "max_length", Truncation: true, PadToEOS: true}, jf.Tokenization)

	// The trainer re-tokenizes the text; local token IDs never reach it.
	lines, err := os.ReadFile(filepath.Join(job.Dir, DataFile))
	require.NoError(t, err)
	assert.Equal(t,
		`{"text":"hi","tokens":2}`+"\n"+`{"text":"é","tokens":2}`+"\n",
		string(lines))
	assert.NotContains(t, string(lines), "input_ids")
}

func TestExecTrainer_Failures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		script  string
		wantMsg string
	}{
		{
			name:    "non-zero exit carries stderr tail",
			script:  "echo 'CUDA out of memory' >&2\nexit 1\n",
			wantMsg: "CUDA out of memory",
		},
		{
			name:    "no weights produced",
			script:  "exit 0\n",
			wantMsg: "no weight files",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			trainer := &ExecTrainer{Command: []string{"/bin/sh", writeScript(t, tc.script)}}
			_, err := trainer.Train(testContext(&syncBuffer{}), testJob(t))
			require.Error(t, err)
			assert.Equal(t, fault.TrainingFailure, fault.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestExecTrainer_NoCommand(t *testing.T) {
	t.Parallel()
	_, err := (&ExecTrainer{}).Train(testContext(&syncBuffer{}), testJob(t))
	require.Error(t, err)
	assert.Equal(t, fault.TrainingFailure, fault.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "engine"))
}

func TestExecTrainer_Cancelled(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "echo started\nsleep 30\n")

	ctx, cancel := context.WithCancel(testContext(&syncBuffer{}))
	job := testJob(t)
	done := make(chan error, 1)
	go func() {
		_, err := (&ExecTrainer{Command: []string{"/bin/sh", script}, WaitDelay: 100 * time.Millisecond}).Train(ctx, job)
		done <- err
	}()
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduleFrom(t *testing.T) {
	t.Parallel()
	s := ScheduleFrom(config.Defaults().Schedule)
	assert.Equal(t, ObjectiveCausalLM, s.Objective)
	assert.False(t, s.MaskInputs)
	assert.Equal(t, 2, s.SaveTotalLimit)
	assert.Equal(t, "adamw_torch", s.Optimizer)
}

func TestTrainerFunc(t *testing.T) {
	t.Parallel()
	var tr Trainer = TrainerFunc(func(ctx context.Context, job Job) (*Weights, error) {
		return &Weights{Dir: job.Dir}, nil
	})
	w, err := tr.Train(context.Background(), Job{Dir: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", w.Dir)
}
