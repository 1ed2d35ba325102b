// Package workflow sequences a compilation attempt: cleanup, write, invoke,
// parse, and verdict.
package workflow

import (
	"context"
	"log/slog"

	"github.com/vitae-app/vitae/internal/compiler"
	"github.com/vitae-app/vitae/internal/diagnostic"
	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/workspace"
)

// MissingArtifactMessage is synthesized when the compiler produced neither an
// artifact nor any diagnostic explaining why.
const MissingArtifactMessage = "artifact was not generated"

// Coordinator runs compilation attempts. It holds no locks: callers must not
// start a second attempt for an id before the first returns.
type Coordinator struct {
	Workspace *workspace.Manager
	Invoker   *compiler.Invoker
	Observer  Observer
	Logger    *slog.Logger
}

// NewCoordinator creates a Coordinator over the given workspace and invoker.
func NewCoordinator(ws *workspace.Manager, inv *compiler.Invoker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{Workspace: ws, Invoker: inv, Logger: logger}
}

// Compile performs one full attempt for id with the given source content.
// A compilation failure is reported through the result; an error is only
// returned for environment, workspace, or invalid-id problems.
func (c *Coordinator) Compile(ctx context.Context, id, content string) (*domain.CompilationResult, error) {
	return c.compile(ctx, id, content, c.Observer)
}

// CompileObserved is Compile with an extra per-call observer.
func (c *Coordinator) CompileObserved(ctx context.Context, id, content string, observer Observer) (*domain.CompilationResult, error) {
	combined := c.Observer
	if observer != nil {
		combined = func(id string, s domain.CompileState) {
			if c.Observer != nil {
				c.Observer(id, s)
			}
			observer(id, s)
		}
	}
	return c.compile(ctx, id, content, combined)
}

func (c *Coordinator) compile(ctx context.Context, id, content string, observer Observer) (*domain.CompilationResult, error) {
	if err := workspace.ValidateID(id); err != nil {
		return nil, err
	}
	a := newAttempt(id, observer)

	if err := a.advance(domain.StateCleaning); err != nil {
		return nil, err
	}
	if err := c.Workspace.EnsureRoot(); err != nil {
		return nil, err
	}
	c.Workspace.Clean(id)

	if err := a.advance(domain.StateWriting); err != nil {
		return nil, err
	}
	src, err := c.Invoker.Write(id, content)
	if err != nil {
		return nil, err
	}

	if err := a.advance(domain.StateInvoking); err != nil {
		return nil, err
	}
	out, err := c.Invoker.Run(ctx, src)
	if err != nil {
		return nil, err
	}

	if err := a.advance(domain.StateParsing); err != nil {
		return nil, err
	}
	result := c.assemble(id, diagnostic.Parse(out.Stdout))

	if err := a.advance(domain.StateDone); err != nil {
		return nil, err
	}

	errs, warns := result.Counts()
	c.Logger.Info("compilation finished",
		"document_id", id,
		"success", result.Success,
		"exit_code", out.ExitCode,
		"errors", errs,
		"warnings", warns,
	)
	return result, nil
}

// assemble decides the verdict from the artifact on disk and the diagnostics.
func (c *Coordinator) assemble(id string, diags []domain.Diagnostic) *domain.CompilationResult {
	if diags == nil {
		diags = []domain.Diagnostic{}
	}
	if !c.Workspace.ArtifactExists(id) {
		if len(diags) == 0 {
			diags = append(diags, domain.Diagnostic{
				Message:  MissingArtifactMessage,
				Severity: domain.SeverityError,
			})
		}
		return &domain.CompilationResult{Success: false, Diagnostics: diags}
	}
	return &domain.CompilationResult{
		Success:      !diagnostic.HasErrors(diags),
		ArtifactPath: workspace.NeutralPath(c.Workspace.ArtifactPath(id)),
		Diagnostics:  diags,
	}
}

// Export copies the latest artifact of id to dest.
func (c *Coordinator) Export(id, dest string) error {
	if err := workspace.ValidateID(id); err != nil {
		return err
	}
	return c.Workspace.Export(id, dest)
}

// CompilerAvailable reports whether the compiler can be started.
func (c *Coordinator) CompilerAvailable(ctx context.Context) bool {
	return c.Invoker.Available(ctx)
}
