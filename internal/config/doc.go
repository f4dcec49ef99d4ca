// Package config defines the run configuration of a fine-tuning run and the
// resolver that builds it from layered sources.
//
// The `config.RunConfiguration` is the single source of truth for every
// pipeline stage. It is built exactly once by Resolve from, in increasing
// precedence: compiled-in defaults, an optional override file decoded by a
// format-specific Loader (see the `hcl` package), the operator identity
// taken from the environment, and the base-model path given on the command
// line. Stages receive it by value and never read global state.
package config
