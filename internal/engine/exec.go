package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/specialistvlad/lorapack/internal/adapter"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fault"
)

// Files and directories ExecTrainer creates inside Job.Dir.
const (
	JobFile    = "job.json"
	DataFile   = "dataset.jsonl"
	WeightsDir = "adapter"
)

const stderrTail = 20

// jobFile is the on-disk form of a Job.
type jobFile struct {
	RunID        string       `json:"run_id"`
	BaseModel    string       `json:"base_model"`
	Dataset      string       `json:"dataset"`
	Examples     int          `json:"examples"`
	OutputDir    string       `json:"output_dir"`
	WeightsDir   string       `json:"weights_dir"`
	Adapter      adapter.Spec `json:"adapter"`
	Schedule     Schedule     `json:"schedule"`
	Tokenization Tokenization `json:"tokenization"`
}

// record is one dataset.jsonl line. Tokens counts the tokens the local
// tokenizer produced before padding.
type record struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// ExecTrainer runs an external trainer program.
type ExecTrainer struct {
	// Command is the program and its leading arguments.
	Command []string
	// WaitDelay bounds how long to wait for the program after the context
	// is cancelled. Zero means five seconds.
	WaitDelay time.Duration
}

// Train implements Trainer.
func (t *ExecTrainer) Train(ctx context.Context, job Job) (*Weights, error) {
	logger := ctxlog.FromContext(ctx)
	if len(t.Command) == 0 {
		return nil, fault.Newf(fault.TrainingFailure, stage, "no training engine configured; set engine { command = [...] } in an override file")
	}

	jf := jobFile{
		RunID:        job.RunID,
		BaseModel:    job.BaseModel,
		Dataset:      filepath.Join(job.Dir, DataFile),
		Examples:     len(job.Examples),
		OutputDir:    job.Dir,
		WeightsDir:   filepath.Join(job.Dir, WeightsDir),
		Adapter:      job.Adapter,
		Schedule:     job.Schedule,
		Tokenization: job.Tokenization,
	}
	jobPath := filepath.Join(job.Dir, JobFile)
	if err := writeJob(jobPath, jf, job); err != nil {
		return nil, fault.New(fault.TrainingFailure, stage, err)
	}
	if err := os.MkdirAll(jf.WeightsDir, 0o755); err != nil {
		return nil, fault.New(fault.TrainingFailure, stage, fmt.Errorf("failed to create weights directory: %w", err))
	}

	args := append(append([]string{}, t.Command[1:]...), "--job", jobPath)
	cmd := exec.CommandContext(ctx, t.Command[0], args...)
	cmd.Dir = job.Dir
	cmd.Env = append(os.Environ(),
		"LORAPACK_JOB="+jobPath,
		"LORAPACK_DATASET="+jf.Dataset,
		"LORAPACK_OUTPUT_DIR="+jf.OutputDir,
		"LORAPACK_WEIGHTS_DIR="+jf.WeightsDir,
	)
	cmd.WaitDelay = t.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	// Non-file writers make Wait own the copy goroutines, so WaitDelay also
	// bounds grandchildren that keep the output open.
	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	logger.Info("Starting trainer.", "command", strings.Join(t.Command, " "), "job", jobPath, "examples", len(job.Examples))
	if err := cmd.Start(); err != nil {
		return nil, fault.New(fault.TrainingFailure, stage, fmt.Errorf("failed to start trainer: %w", err))
	}

	var wg sync.WaitGroup
	var tail []string
	wg.Add(2)
	go func() {
		defer wg.Done()
		readEvents(ctx, stdout, job.Dir, job.OnEvent)
	}()
	go func() {
		defer wg.Done()
		tail = readStderr(ctx, stderr)
	}()
	waitErr := cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	wg.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if waitErr != nil {
		msg := fmt.Sprintf("trainer failed: %v", waitErr)
		if len(tail) > 0 {
			msg += "\n" + strings.Join(tail, "\n")
		}
		return nil, fault.New(fault.TrainingFailure, stage, errors.New(msg))
	}

	files, err := listFiles(jf.WeightsDir)
	if err != nil {
		return nil, fault.New(fault.TrainingFailure, stage, err)
	}
	if len(files) == 0 {
		return nil, fault.Newf(fault.TrainingFailure, stage, "trainer produced no weight files in %s", jf.WeightsDir)
	}
	logger.Info("Trainer finished.", "weights", jf.WeightsDir, "files", len(files))
	return &Weights{Dir: jf.WeightsDir, Files: files}, nil
}

func writeJob(path string, jf jobFile, job Job) error {
	data, err := json.Marshal(jf, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", JobFile, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", JobFile, err)
	}

	f, err := os.Create(jf.Dataset)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", DataFile, err)
	}
	w := bufio.NewWriter(f)
	for i, ex := range job.Examples {
		rec := record{Text: ex.Text}
		for _, m := range ex.AttentionMask {
			rec.Tokens += m
		}
		if err := json.MarshalWrite(w, rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode example %d: %w", i, err)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", DataFile, err)
	}
	return f.Close()
}

// readEvents decodes trainer stdout until EOF. Checkpoint paths are made
// absolute relative to dir.
func readEvents(ctx context.Context, r io.Reader, dir string, onEvent func(Event)) {
	logger := ctxlog.FromContext(ctx)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &ev) != nil || ev.Event == "" {
			logger.Info("Trainer output.", "line", line)
			continue
		}

		switch ev.Event {
		case EventLog:
			logger.Info("Training progress.", "step", ev.Step, "loss", ev.Loss, "learning_rate", ev.LearningRate, "epoch", ev.Epoch)
		case EventCheckpoint:
			if ev.Path != "" && !filepath.IsAbs(ev.Path) {
				ev.Path = filepath.Join(dir, ev.Path)
			}
			logger.Info("Checkpoint saved.", "step", ev.Step, "path", ev.Path)
		default:
			logger.Debug("Trainer event.", "event", ev.Event, "step", ev.Step, "message", ev.Message)
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if err := sc.Err(); err != nil {
		logger.Warn("Failed to read trainer output.", "error", err)
		io.Copy(io.Discard, r)
	}
}

// readStderr logs trainer stderr and returns its last lines.
func readStderr(ctx context.Context, r io.Reader) []string {
	logger := ctxlog.FromContext(ctx)
	var tail []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		logger.Info("Trainer stderr.", "line", line)
		tail = append(tail, line)
		if len(tail) > stderrTail {
			tail = tail[1:]
		}
	}
	if sc.Err() != nil {
		io.Copy(io.Discard, r)
	}
	return tail
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list weights: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
