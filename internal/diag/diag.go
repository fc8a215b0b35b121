// Package diag collects diagnostics produced while building a module
// graph. A single Collector is shared by every analysis pass; ordinary
// diagnostics accumulate, while blocking errors abort the whole build.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityNote  Severity = "note"
)

// ImportFrame records one step of the import chain that led to the
// module currently being processed.
type ImportFrame struct {
	Path string
	Line int
}

// Diagnostic is a single reported message, attributed to a file and line.
type Diagnostic struct {
	File     string
	Line     int
	Severity Severity
	Message  string
	Blocker  bool
	// context is the import chain captured at report time.
	context []ImportFrame
}

// Collector accumulates diagnostics for one build run.
type Collector struct {
	diags         []Diagnostic
	file          string
	importContext []ImportFrame
	blockers      bool
	seenOnce      map[string]bool
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{seenOnce: make(map[string]bool)}
}

// SetFile sets the file that subsequent Report calls attribute messages to.
func (c *Collector) SetFile(path string) {
	c.file = path
}

// ImportContext returns a copy of the current import context stack.
func (c *Collector) ImportContext() []ImportFrame {
	out := make([]ImportFrame, len(c.importContext))
	copy(out, c.importContext)
	return out
}

// SetImportContext replaces the current import context stack.
func (c *Collector) SetImportContext(frames []ImportFrame) {
	c.importContext = frames
}

// ReportOption adjusts how a diagnostic is recorded.
type ReportOption func(*Diagnostic)

// Note marks the diagnostic as a note rather than an error.
func Note() ReportOption {
	return func(d *Diagnostic) { d.Severity = SeverityNote }
}

// Blocker marks the diagnostic as blocking: the build must abort.
func Blocker() ReportOption {
	return func(d *Diagnostic) { d.Blocker = true }
}

// Report records a diagnostic at the given line in the current file.
func (c *Collector) Report(line int, message string, opts ...ReportOption) {
	d := Diagnostic{
		File:     c.file,
		Line:     line,
		Severity: SeverityError,
		Message:  message,
		context:  c.ImportContext(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	if d.Blocker {
		c.blockers = true
	}
	c.diags = append(c.diags, d)
}

// ReportOnce records a diagnostic at most once per message for the run.
// Used for follow-up notes that would otherwise repeat per import site.
func (c *Collector) ReportOnce(line int, message string, opts ...ReportOption) {
	if c.seenOnce[message] {
		return
	}
	c.seenOnce[message] = true
	c.Report(line, message, opts...)
}

// IsErrors reports whether any error-severity diagnostic was recorded.
func (c *Collector) IsErrors() bool {
	for _, d := range c.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// IsBlockers reports whether a blocking error was recorded.
func (c *Collector) IsBlockers() bool {
	return c.blockers
}

// Count returns the number of recorded diagnostics.
func (c *Collector) Count() int {
	return len(c.diags)
}

// Messages renders every diagnostic, ordered by file then line, with
// import-context notes preceding the diagnostics they explain.
func (c *Collector) Messages() []string {
	diags := make([]Diagnostic, len(c.diags))
	copy(diags, c.diags)
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].File != diags[j].File {
			return diags[i].File < diags[j].File
		}
		return diags[i].Line < diags[j].Line
	})

	var out []string
	var lastContext string
	for _, d := range diags {
		if ctx := formatContext(d.context); ctx != "" && ctx != lastContext {
			out = append(out, ctx)
			lastContext = ctx
		}
		if d.File != "" {
			out = append(out, fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, d.Severity, d.Message))
		} else {
			out = append(out, d.Message)
		}
	}
	return out
}

func formatContext(frames []ImportFrame) string {
	if len(frames) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("In module imported from")
	for i, f := range frames {
		if i > 0 {
			b.WriteString(", from")
		}
		fmt.Fprintf(&b, " %s:%d", f.Path, f.Line)
	}
	b.WriteString(":")
	return b.String()
}

// BuildError carries the accumulated diagnostic messages out of a failed
// build. Callers print Messages one per line.
type BuildError struct {
	Messages []string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if len(e.Messages) == 0 {
		return "build failed"
	}
	return strings.Join(e.Messages, "\n")
}

// NewBuildError snapshots the collector's messages into a BuildError.
func (c *Collector) NewBuildError() *BuildError {
	return &BuildError{Messages: c.Messages()}
}
