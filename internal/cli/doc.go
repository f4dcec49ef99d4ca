// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates CLI flags into the application's internal configuration and
// maps run outcomes to 0, 1, 2 (usage) or 130 (interrupted).
package cli
