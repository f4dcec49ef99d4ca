package config

import "context"

// Loader is the interface for a format-specific override loader.
type Loader interface {
	// Load reads override files from the given paths and translates them
	// into the format-agnostic Overrides. Paths that do not exist are
	// skipped; the returned Overrides lists the files actually read.
	Load(ctx context.Context, paths ...string) (*Overrides, error)
}
