package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/vk/modbuildgo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("modbuild", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
modbuild - An incremental module build and analysis tool.

Usage:
  modbuild [options] [FILE ...]

Arguments:
  FILE
    One or more entry source files to build.

Options:
`)
		flagSet.PrintDefaults()
	}

	moduleFlag := flagSet.String("m", "", "Comma-separated entry module names to build instead of files.")
	optionsFlag := flagSet.String("options", "", "Path to an HCL build options file.")
	targetFlag := flagSet.String("target", "", "Analysis target. Options: 'semantic-analysis' or 'typecheck'.")
	cacheDirFlag := flagSet.String("cache-dir", "", "Override the cache directory from the options file.")
	noIncrementalFlag := flagSet.Bool("no-incremental", false, "Disable the incremental cache for this run.")
	silentImportsFlag := flagSet.Bool("silent-imports", false, "Suppress diagnostics for modules that cannot be found.")
	logFormatFlag := flagSet.String("log-format", defaultLogFormat(), "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	paths := flagSet.Args()
	var modules []string
	if *moduleFlag != "" {
		for _, id := range strings.Split(*moduleFlag, ",") {
			if id = strings.TrimSpace(id); id != "" {
				modules = append(modules, id)
			}
		}
	}
	slog.Debug("Entry sources determined.", "files", len(paths), "modules", len(modules))

	if len(paths) == 0 && len(modules) == 0 {
		slog.Debug("No entry sources provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	switch strings.ToLower(*targetFlag) {
	case "", "semantic-analysis", "typecheck", "type-check":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid target: must be 'semantic-analysis' or 'typecheck'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		Paths:         paths,
		Modules:       modules,
		OptionsPath:   *optionsFlag,
		LogFormat:     logFormat,
		LogLevel:      logLevel,
		Target:        strings.ToLower(*targetFlag),
		NoIncremental: *noIncrementalFlag,
		SilentImports: *silentImportsFlag,
		CacheDir:      *cacheDirFlag,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// defaultLogFormat picks human-readable text on a terminal and json
// otherwise, so piped output stays machine-parsable.
func defaultLogFormat() string {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return "text"
	}
	return "json"
}
