// Package dataset loads versioned instruction-tuning corpora stored as
// line-delimited JSON.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-json-experiment/json"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/specialistvlad/lorapack/internal/fsutil"
)

// stage labels failures raised by this package.
const stage = "loading"

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 16 << 20

// Example is one instruction-tuning record. Every field is optional in the
// source file; Input may be empty.
type Example struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}

// Options tunes Load.
type Options struct {
	// Pattern is the file-name suffix of corpus files, e.g. ".jsonl".
	Pattern string
	// RejectEmptyOutput turns records without an output into a
	// DatasetInvalid failure instead of a counted warning.
	RejectEmptyOutput bool
}

// Result is the ordered corpus of one dataset version.
type Result struct {
	Dir          string
	Files        []string
	Examples     []Example
	EmptyOutputs int
}

// Load reads every corpus file in dir, the version-scoped data directory,
// in lexical filename order, and concatenates their records. It fails with DatasetNotFound when
// the version directory is absent and DatasetEmpty when it holds no corpus
// files or no records; a successful Result is never empty.
func Load(ctx context.Context, dir string, opts Options) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	if opts.Pattern == "" {
		opts.Pattern = ".jsonl"
	}

	if !fsutil.IsDir(dir) {
		return nil, fault.Newf(fault.DatasetNotFound, stage, "training data not found: %s", dir)
	}

	files, err := fsutil.FindFilesByExtension(dir, opts.Pattern, false)
	if err != nil {
		return nil, fault.New(fault.DatasetNotFound, stage, fmt.Errorf("failed to list %s: %w", dir, err))
	}
	if len(files) == 0 {
		return nil, fault.Newf(fault.DatasetEmpty, stage, "no %s files found in %s", opts.Pattern, dir)
	}

	logger.Info("Found training files.", "count", len(files), "dir", dir)
	res := &Result{Dir: dir}
	for _, file := range files {
		logger.Info("Training file.", "name", filepath.Base(file))
		n, err := readFile(file, res, opts)
		if err != nil {
			return nil, err
		}
		logger.Debug("Training file loaded.", "name", filepath.Base(file), "records", n)
		res.Files = append(res.Files, filepath.Base(file))
	}

	if len(res.Examples) == 0 {
		return nil, fault.Newf(fault.DatasetEmpty, stage, "no training records found in %s", dir)
	}
	if res.EmptyOutputs > 0 {
		logger.Warn("Records with an empty output produce an empty response section.", "count", res.EmptyOutputs)
	}
	logger.Info("Loaded training examples.", "count", len(res.Examples))
	return res, nil
}

// readFile appends the records of one JSONL file to res and returns how
// many it read.
func readFile(path string, res *Result, opts Options) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fault.New(fault.DatasetInvalid, stage, fmt.Errorf("failed to open %s: %w", path, err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	count := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if lineNo == 1 {
			line = bytes.TrimPrefix(line, []byte("\xef\xbb\xbf"))
		}

		var ex Example
		if err := json.Unmarshal(line, &ex); err != nil {
			return count, fault.Newf(fault.DatasetInvalid, stage, "%s:%d: malformed record: %v", path, lineNo, err)
		}
		if ex.Output == "" {
			if opts.RejectEmptyOutput {
				return count, fault.Newf(fault.DatasetInvalid, stage, "%s:%d: record has an empty output", path, lineNo)
			}
			res.EmptyOutputs++
		}
		res.Examples = append(res.Examples, ex)
		count++
	}
	if err := sc.Err(); err != nil {
		return count, fault.New(fault.DatasetInvalid, stage, fmt.Errorf("failed to read %s: %w", path, err))
	}
	return count, nil
}
