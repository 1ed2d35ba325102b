// Package domain defines the core types for the vitae document engine.
package domain

import (
	"context"
	"path/filepath"
)

// Document is a stored typesetting-source document.
// Timestamps use TimestampLayout so that text order equals time order.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TimestampLayout is a fixed-width UTC RFC 3339 layout.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a single classified message extracted from compiler output.
// Line is zero when the diagnostic is not tied to a source line.
type Diagnostic struct {
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Located reports whether the diagnostic carries a source line.
func (d Diagnostic) Located() bool {
	return d.Line > 0
}

// CompilationResult is the outcome of one compilation attempt.
// ArtifactPath is empty when no artifact exists at the end of the attempt.
type CompilationResult struct {
	Success      bool         `json:"success"`
	ArtifactPath string       `json:"artifact_path,omitempty"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
}

// HasArtifact reports whether the attempt left an artifact on disk.
func (r *CompilationResult) HasArtifact() bool {
	return r.ArtifactPath != ""
}

// Counts returns the number of error and warning diagnostics.
func (r *CompilationResult) Counts() (errs, warnings int) {
	for _, d := range r.Diagnostics {
		switch d.Severity {
		case SeverityError:
			errs++
		case SeverityWarning:
			warnings++
		}
	}
	return errs, warnings
}

// CompileState is a step of a single compilation attempt.
type CompileState string

const (
	StateIdle     CompileState = "idle"
	StateCleaning CompileState = "cleaning"
	StateWriting  CompileState = "writing"
	StateInvoking CompileState = "invoking"
	StateParsing  CompileState = "parsing"
	StateDone     CompileState = "done"
)

// Invocation describes one run of the external compiler.
type Invocation struct {
	Binary     string
	Flags      []string
	OutputDir  string
	SourcePath string
}

// Argv returns the compiler arguments (without the binary). Paths are
// relative to OutputDir, which runners use as the working directory, so
// located diagnostics read "./<id>.tex:<line>: ..." on every platform.
func (inv Invocation) Argv() []string {
	args := make([]string, 0, len(inv.Flags)+3)
	args = append(args, inv.Flags...)
	args = append(args, "-output-directory", ".", filepath.Base(inv.SourcePath))
	return args
}

// RunOutput is what a runner captured from a finished compiler process.
type RunOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CompilerRunner executes the external compiler.
// Run returns ErrCompilerNotFound when the process cannot be started at all;
// a non-zero exit status is reported through RunOutput, not as an error.
type CompilerRunner interface {
	Run(ctx context.Context, inv Invocation) (RunOutput, error)

	// Available is a best-effort probe and never returns an error.
	Available(ctx context.Context, binary string) bool
}

// CompilationRecord is a persisted summary of one compilation attempt.
type CompilationRecord struct {
	ID           int64        `json:"id"`
	DocumentID   string       `json:"document_id"`
	Success      bool         `json:"success"`
	ArtifactPath string       `json:"artifact_path,omitempty"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
	DurationMS   int64        `json:"duration_ms"`
	CreatedAt    string       `json:"created_at"`
}

// CompileEvent announces a finished compilation to feed subscribers.
type CompileEvent struct {
	DocumentID string             `json:"document_id"`
	Result     *CompilationResult `json:"result"`
	FinishedAt string             `json:"finished_at"`
}

// CompileFeed fans compile events out to interested subscribers.
type CompileFeed interface {
	Publish(ctx context.Context, ev CompileEvent) error

	// Subscribe streams events until ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan CompileEvent, error)
}
