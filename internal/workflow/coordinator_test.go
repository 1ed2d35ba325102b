package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vitae-app/vitae/internal/compiler"
	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/testutil"
	"github.com/vitae-app/vitae/internal/workspace"
)

const cleanSource = "\\documentclass{article}\n\\begin{document}\nHello.\n\\end{document}\n"

func newTestCoordinator(t *testing.T, binary string) *Coordinator {
	t.Helper()
	ws := workspace.NewManager(filepath.Join(t.TempDir(), "temp"), nil)
	inv := compiler.NewInvoker(ws, compiler.NewExecRunner(nil), binary, nil)
	return NewCoordinator(ws, inv, nil)
}

func TestCompile_CleanSource(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))

	res, err := c.Compile(context.Background(), "doc", cleanSource)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, diagnostics %+v", res.Diagnostics)
	}
	if res.ArtifactPath == "" {
		t.Fatal("ArtifactPath empty")
	}
	if strings.Contains(res.ArtifactPath, `\`) {
		t.Errorf("ArtifactPath %q not in forward-slash form", res.ArtifactPath)
	}
	if !strings.HasSuffix(res.ArtifactPath, "/doc.pdf") {
		t.Errorf("ArtifactPath = %q", res.ArtifactPath)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %+v, want none", res.Diagnostics)
	}
}

func TestCompile_CreatesWorkspaceRoot(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	if _, err := os.Stat(c.Workspace.Root); !os.IsNotExist(err) {
		t.Fatal("workspace root exists before first compile")
	}
	if _, err := c.Compile(context.Background(), "doc", cleanSource); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := os.Stat(c.Workspace.Root); err != nil {
		t.Errorf("workspace root missing: %v", err)
	}
}

func TestCompile_WarningsDoNotFail(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))

	res, err := c.Compile(context.Background(), "doc", cleanSource+testutil.MarkWarning)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Success {
		t.Error("Success = false with warnings only")
	}
	want := []domain.Diagnostic{{Message: "LaTeX Warning: Reference undefined", Severity: domain.SeverityWarning}}
	if !reflect.DeepEqual(res.Diagnostics, want) {
		t.Errorf("Diagnostics = %+v, want %+v", res.Diagnostics, want)
	}
}

func TestCompile_ErrorWithArtifact(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))

	res, err := c.Compile(context.Background(), "doc", testutil.MarkError)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Success {
		t.Error("Success = true despite an error diagnostic")
	}
	if res.ArtifactPath == "" {
		t.Error("ArtifactPath empty although the artifact exists")
	}
	want := []domain.Diagnostic{{Line: 12, Message: "Undefined control sequence.", Severity: domain.SeverityError}}
	if !reflect.DeepEqual(res.Diagnostics, want) {
		t.Errorf("Diagnostics = %+v, want %+v", res.Diagnostics, want)
	}
}

func TestCompile_RelativeWorkspaceRoot(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	t.Chdir(t.TempDir())
	ws := workspace.NewManager(filepath.Join("data", "temp"), nil)
	if !filepath.IsAbs(ws.Root) {
		t.Fatalf("Root = %q, want absolute", ws.Root)
	}
	c := NewCoordinator(ws, compiler.NewInvoker(ws, compiler.NewExecRunner(nil), bin, nil), nil)

	res, err := c.Compile(context.Background(), "doc", cleanSource)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Success || len(res.Diagnostics) != 0 {
		t.Errorf("res = %+v, want a clean success", res)
	}

	args := testutil.LastArgs(t, bin)
	if tail := strings.Join(args[len(args)-3:], " "); tail != "-output-directory . doc.tex" {
		t.Errorf("args = %q", args)
	}

	res, err = c.Compile(context.Background(), "doc", testutil.MarkError)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []domain.Diagnostic{{Line: 12, Message: "Undefined control sequence.", Severity: domain.SeverityError}}
	if res.Success || !reflect.DeepEqual(res.Diagnostics, want) {
		t.Errorf("res = %+v, want located error", res)
	}
}

func TestCompile_NoArtifactSynthesizesDiagnostic(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))

	res, err := c.Compile(context.Background(), "doc", testutil.MarkNoPDF)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Success || res.ArtifactPath != "" {
		t.Errorf("result = %+v, want failure without artifact", res)
	}
	want := []domain.Diagnostic{{Message: MissingArtifactMessage, Severity: domain.SeverityError}}
	if !reflect.DeepEqual(res.Diagnostics, want) {
		t.Errorf("Diagnostics = %+v, want %+v", res.Diagnostics, want)
	}
}

func TestCompile_NoArtifactKeepsParsedDiagnostics(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))

	res, err := c.Compile(context.Background(), "doc", testutil.MarkFatal)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []domain.Diagnostic{{Message: "Emergency stop.", Severity: domain.SeverityError}}
	if !reflect.DeepEqual(res.Diagnostics, want) {
		t.Errorf("Diagnostics = %+v, want %+v", res.Diagnostics, want)
	}
}

func TestCompile_StaleArtifactNotReported(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	ctx := context.Background()

	first, err := c.Compile(ctx, "doc", cleanSource)
	if err != nil || first.ArtifactPath == "" {
		t.Fatalf("first Compile = %+v, %v", first, err)
	}

	second, err := c.Compile(ctx, "doc", testutil.MarkNoPDF)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if second.ArtifactPath != "" {
		t.Errorf("ArtifactPath = %q, want empty after failed recompile", second.ArtifactPath)
	}
	if c.Workspace.ArtifactExists("doc") {
		t.Error("stale artifact still on disk")
	}
}

func TestCompile_Idempotent(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	ctx := context.Background()
	src := testutil.MarkWarning + "\n" + testutil.MarkError

	first, err := c.Compile(ctx, "doc", src)
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	second, err := c.Compile(ctx, "doc", src)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if first.Success != second.Success {
		t.Errorf("Success differs: %v vs %v", first.Success, second.Success)
	}
	if !reflect.DeepEqual(first.Diagnostics, second.Diagnostics) {
		t.Errorf("Diagnostics differ:\n%+v\n%+v", first.Diagnostics, second.Diagnostics)
	}
}

func TestCompile_DocumentsAreIsolated(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	ctx := context.Background()

	if _, err := c.Compile(ctx, "a", cleanSource); err != nil {
		t.Fatalf("Compile a: %v", err)
	}
	if _, err := c.Compile(ctx, "b", testutil.MarkNoPDF); err != nil {
		t.Fatalf("Compile b: %v", err)
	}
	if !c.Workspace.ArtifactExists("a") {
		t.Error("compiling b removed a's artifact")
	}
}

func TestCompile_ObserverSeesAllStates(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	var seen []domain.CompileState
	c.Observer = func(_ string, s domain.CompileState) { seen = append(seen, s) }

	if _, err := c.Compile(context.Background(), "doc", cleanSource); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []domain.CompileState{
		domain.StateCleaning, domain.StateWriting, domain.StateInvoking,
		domain.StateParsing, domain.StateDone,
	}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("states = %v, want %v", seen, want)
	}
}

func TestCompileObserved_CallsBothObservers(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	var global, local int
	c.Observer = func(string, domain.CompileState) { global++ }

	_, err := c.CompileObserved(context.Background(), "doc", cleanSource, func(string, domain.CompileState) { local++ })
	if err != nil {
		t.Fatalf("CompileObserved: %v", err)
	}
	if global != 5 || local != 5 {
		t.Errorf("global = %d, local = %d, want 5 each", global, local)
	}
}

func TestCompile_MissingCompiler(t *testing.T) {
	c := newTestCoordinator(t, filepath.Join(t.TempDir(), "missing-pdflatex"))

	res, err := c.Compile(context.Background(), "doc", cleanSource)
	if !errors.Is(err, domain.ErrCompilerNotFound) {
		t.Fatalf("err = %v, want ErrCompilerNotFound", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
}

func TestCompile_InvalidID(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	_, err := c.Compile(context.Background(), "../escape", cleanSource)
	if !errors.Is(err, domain.ErrInvalidDocumentID) {
		t.Fatalf("err = %v, want ErrInvalidDocumentID", err)
	}
}

func TestExport_BeforeCompile(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	dest := filepath.Join(t.TempDir(), "out.pdf")

	err := c.Export("doc", dest)
	if !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("err = %v, want ErrArtifactNotFound", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("export created the destination file")
	}
}

func TestExport_AfterCompile(t *testing.T) {
	c := newTestCoordinator(t, testutil.FakeCompiler(t))
	if _, err := c.Compile(context.Background(), "doc", cleanSource); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "out.pdf")
	if err := c.Export("doc", dest); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Errorf("exported data = %q", data)
	}
}

func TestCompilerAvailable(t *testing.T) {
	if !newTestCoordinator(t, testutil.FakeCompiler(t)).CompilerAvailable(context.Background()) {
		t.Error("CompilerAvailable = false for fake compiler")
	}
	if newTestCoordinator(t, "definitely-not-a-real-compiler-binary").CompilerAvailable(context.Background()) {
		t.Error("CompilerAvailable = true for unknown binary")
	}
}
