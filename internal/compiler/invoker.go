// Package compiler writes document sources into the workspace and runs the
// external typesetting engine against them.
package compiler

import (
	"context"
	"log/slog"

	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/workspace"
)

// DefaultBinary is the compiler looked up in PATH when none is configured.
const DefaultBinary = "pdflatex"

// DefaultFlags keep pdflatex non-interactive and make it prefix errors with file:line.
var DefaultFlags = []string{"-interaction=nonstopmode", "-file-line-error"}

// Invoker writes the source and runs the compiler for one attempt.
type Invoker struct {
	Workspace *workspace.Manager
	Runner    domain.CompilerRunner
	Binary    string
	Flags     []string
	Logger    *slog.Logger
}

// NewInvoker creates an Invoker using the default pdflatex flags.
func NewInvoker(ws *workspace.Manager, runner domain.CompilerRunner, binary string, logger *slog.Logger) *Invoker {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		Workspace: ws,
		Runner:    runner,
		Binary:    binary,
		Flags:     DefaultFlags,
		Logger:    logger,
	}
}

// Write stores content as the document's source, fully synced.
func (i *Invoker) Write(id, content string) (string, error) {
	return i.Workspace.WriteSource(id, content)
}

// Run spawns the compiler on an already written source and waits for it.
func (i *Invoker) Run(ctx context.Context, sourcePath string) (domain.RunOutput, error) {
	inv := domain.Invocation{
		Binary:     i.Binary,
		Flags:      i.Flags,
		OutputDir:  i.Workspace.Root,
		SourcePath: sourcePath,
	}
	out, err := i.Runner.Run(ctx, inv)
	if err != nil {
		return out, err
	}
	i.Logger.Debug("compiler finished", "source", sourcePath, "exit_code", out.ExitCode)
	return out, nil
}

// Invoke writes content and runs the compiler. A failed write never spawns the process.
func (i *Invoker) Invoke(ctx context.Context, id, content string) (domain.RunOutput, error) {
	src, err := i.Write(id, content)
	if err != nil {
		return domain.RunOutput{}, err
	}
	return i.Run(ctx, src)
}

// Available probes whether the configured compiler can be started.
func (i *Invoker) Available(ctx context.Context) bool {
	return i.Runner.Available(ctx, i.Binary)
}
