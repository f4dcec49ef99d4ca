// Package incident creates the one-file-per-incident logs written under the
// run's logs directory (crash reports, missing-license notices).
package incident

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout is the second-granularity stamp embedded in incident names.
const TimestampLayout = "2006-01-02_15-04-05"

// maxSuffix bounds the collision search within a single second.
const maxSuffix = 1000

// Create opens a new incident file named <prefix>_<timestamp>.log inside
// dir, creating dir if needed. When a file with that name already exists,
// a numeric suffix is appended (<prefix>_<timestamp>_2.log, ...). Files are
// created with O_EXCL, so two writers never share a file.
func Create(dir, prefix string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create incident directory %s: %w", dir, err)
	}

	base := fmt.Sprintf("%s_%s", prefix, now.Format(TimestampLayout))
	for i := 1; i <= maxSuffix; i++ {
		name := base + ".log"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.log", base, i)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create incident file %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("too many incidents named %s in %s", base, dir)
}

// Write creates an incident file and writes body to it, returning its path.
func Write(dir, prefix string, now time.Time, body []byte) (string, error) {
	f, err := Create(dir, prefix, now)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(body); err != nil {
		f.Close()
		return path, fmt.Errorf("failed to write incident %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("failed to close incident %s: %w", path, err)
	}
	return path, nil
}
