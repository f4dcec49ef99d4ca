package app

import "errors"

// DefaultConfigFile is the override file looked up in the working
// directory when -config is not given.
const DefaultConfigFile = "finetune.hcl"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ModelPath string
	// ConfigPath is an override file or a directory of them. Empty means
	// DefaultConfigFile in WorkDir.
	ConfigPath string
	WorkDir    string

	LogFormat  string
	LogLevel   string
	StatusPort int
	// AssumeYes answers the no-accelerator prompt affirmatively.
	AssumeYes bool
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("MODEL_PATH is required")
	}
	if cfg.StatusPort < 0 || cfg.StatusPort > 65535 {
		return nil, errors.New("status-port must be between 0 and 65535")
	}
	return &cfg, nil
}
