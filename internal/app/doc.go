// Package app contains the core application logic. It resolves the run
// configuration, wires the pipeline to its collaborators, serves the
// optional status endpoint, forwards progress to the optional notifier and
// is the single top-level failure handler, decoupled from any specific
// entrypoint like a CLI.
package app
