// Package crash writes post-mortem reports for runs that end in an
// unrecoverable failure.
package crash

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/specialistvlad/lorapack/internal/incident"
)

// Prefix names crash report files.
const Prefix = "crash_report_finetune"

const rule = "================================================================================"

// Report is the content of one crash report.
type Report struct {
	Timestamp time.Time
	Program   string
	RunID     string
	// Context locates the failure, e.g. "stage=training model=Models/x".
	Context string
	Kind    fault.Kind
	Message string
	// Config is the indented configuration snapshot.
	Config string
	Stack  []byte
}

// FromError builds a report for err. The stack recorded with err is used
// when present.
func FromError(err error, now time.Time) Report {
	r := Report{
		Timestamp: now,
		Kind:      fault.KindOf(err),
		Message:   err.Error(),
		Stack:     fault.StackOf(err),
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Err != nil {
		r.Message = fe.Err.Error()
	}
	return r
}

// Render formats the report.
func (r Report) Render() string {
	var runID, config, where string
	if r.RunID != "" {
		runID = "Run ID: " + r.RunID + "\n"
	}
	if r.Config != "" {
		config = "Configuration:\n" + r.Config + "\n"
	}
	if r.Context != "" {
		where = "Context: " + r.Context + "\n\n"
	}
	stack := "(no stack recorded)\n"
	if len(r.Stack) > 0 {
		stack = string(r.Stack)
	}

	return heredoc.Docf(`
		%s
		FINE-TUNING CRASH REPORT
		%s

		Timestamp: %s
		Program: %s
		Go: %s
		Platform: %s/%s
		%s
		%s%sError:
		%s: %s

		Traceback:
		%s
		%s
	`,
		rule, rule,
		r.Timestamp.Format(time.DateTime), r.Program, runtime.Version(), runtime.GOOS, runtime.GOARCH,
		runID,
		config, where,
		r.Kind, r.Message,
		stack,
		rule)
}

// Reporter persists reports under a logs directory.
type Reporter struct {
	LogsDir string
}

// Write stores r as a new crash report file and returns its path. Reports
// never overwrite each other.
func (rep *Reporter) Write(r Report) (string, error) {
	path, err := incident.Write(rep.LogsDir, Prefix, r.Timestamp, []byte(r.Render()))
	if err != nil {
		return path, fmt.Errorf("failed to write crash report: %w", err)
	}
	return path, nil
}
