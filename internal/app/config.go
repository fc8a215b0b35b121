package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Paths are entry source files to build.
	Paths []string
	// Modules are entry module names, resolved against the search roots.
	Modules []string
	// OptionsPath points at an HCL build options file. Empty means
	// built-in defaults.
	OptionsPath string

	LogFormat string
	LogLevel  string

	// Overrides applied on top of the loaded options file.
	Target        string
	NoIncremental bool
	SilentImports bool
	CacheDir      string
}

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Paths) == 0 && len(cfg.Modules) == 0 {
		return nil, errors.New("at least one entry file or module is required")
	}

	return &cfg, nil
}
