package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/vitae-app/vitae/internal/domain"
)

const waitDelay = 2 * time.Second

// ExecRunner runs the compiler as a local subprocess found via PATH.
type ExecRunner struct {
	Logger *slog.Logger
}

var _ domain.CompilerRunner = (*ExecRunner)(nil)

// NewExecRunner creates a runner that spawns local processes.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Logger: logger}
}

// Run starts the compiler and waits for it to exit.
// The process is only killed if ctx is cancelled; callers that must never
// abort a run pass a context without cancellation.
func (r *ExecRunner) Run(ctx context.Context, inv domain.Invocation) (domain.RunOutput, error) {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Argv()...)
	cmd.Dir = inv.OutputDir
	// Grandchildren holding stdout open must not stall Wait after a kill.
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Debug("starting compiler", "binary", inv.Binary, "source", inv.SourcePath)
	err := cmd.Run()

	out := domain.RunOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		return out, nil
	}

	if ctx.Err() != nil {
		return out, domain.ErrCompilerTimeout.Wrap(ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		// Non-zero exit is routine for pdflatex; the caller inspects output and artifact.
		r.Logger.Debug("compiler exited non-zero", "exit_code", out.ExitCode)
		return out, nil
	}
	return out, domain.WrapEngineError(domain.ErrCompilerNotFound.Code, domain.ErrCompilerNotFound.Message,
		fmt.Errorf("start %s: %w", inv.Binary, err))
}

// Available reports whether binary can be started at all by running its
// --version flag. A non-zero exit still counts as available.
func (r *ExecRunner) Available(ctx context.Context, binary string) bool {
	err := exec.CommandContext(ctx, binary, "--version").Run()
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
