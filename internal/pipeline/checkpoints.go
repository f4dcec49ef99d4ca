package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const checkpointPrefix = "checkpoint-"

// PruneCheckpoints removes checkpoint-<step> directories in dir beyond the
// keep most recent steps and returns the removed paths. Directories whose
// suffix is not a step number are left alone.
func PruneCheckpoints(dir string, keep int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	type checkpoint struct {
		step int
		path string
	}
	var found []checkpoint
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), checkpointPrefix) {
			continue
		}
		step, err := strconv.Atoi(strings.TrimPrefix(e.Name(), checkpointPrefix))
		if err != nil {
			continue
		}
		found = append(found, checkpoint{step: step, path: filepath.Join(dir, e.Name())})
	}
	if len(found) <= keep {
		return nil, nil
	}

	sort.Slice(found, func(i, j int) bool { return found[i].step < found[j].step })
	var removed []string
	for _, c := range found[:len(found)-keep] {
		if err := os.RemoveAll(c.path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", c.path, err)
		}
		removed = append(removed, c.path)
	}
	return removed, nil
}
