package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/testutil"
	"github.com/vitae-app/vitae/internal/workspace"
)

func newTestInvoker(t *testing.T, binary string) *Invoker {
	t.Helper()
	ws := workspace.NewManager(t.TempDir(), nil)
	return NewInvoker(ws, NewExecRunner(nil), binary, nil)
}

func TestInvoke_Success(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	inv := newTestInvoker(t, bin)

	out, err := inv.Invoke(context.Background(), "doc", `\documentclass{article}`)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", out.ExitCode)
	}
	if !strings.Contains(out.Stdout, "Output written on doc.pdf") {
		t.Errorf("Stdout = %q", out.Stdout)
	}
	if !inv.Workspace.ArtifactExists("doc") {
		t.Error("artifact not produced")
	}
}

func TestInvoke_PassesBatchFlags(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	inv := newTestInvoker(t, bin)

	if _, err := inv.Invoke(context.Background(), "doc", "x"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	got := testutil.LastArgs(t, bin)
	want := []string{
		"-interaction=nonstopmode",
		"-file-line-error",
		"-output-directory",
		".",
		"doc.tex",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestInvoke_NonZeroExitIsNotAnError(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	inv := newTestInvoker(t, bin)

	out, err := inv.Invoke(context.Background(), "doc", testutil.MarkError)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", out.ExitCode)
	}
	if !strings.Contains(out.Stdout, "Undefined control sequence") {
		t.Errorf("Stdout missing diagnostic: %q", out.Stdout)
	}
}

func TestInvoke_WritesSourceBeforeRun(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	inv := newTestInvoker(t, bin)

	content := "\\documentclass{article}\n\\begin{document}hi\\end{document}\n"
	if _, err := inv.Invoke(context.Background(), "doc", content); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	data, err := os.ReadFile(inv.Workspace.SourcePath("doc"))
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(data) != content {
		t.Errorf("source = %q, want %q", data, content)
	}
}

func TestInvoke_MissingBinary(t *testing.T) {
	inv := newTestInvoker(t, filepath.Join(t.TempDir(), "no-such-pdflatex"))

	_, err := inv.Invoke(context.Background(), "doc", "x")
	if !errors.Is(err, domain.ErrCompilerNotFound) {
		t.Fatalf("err = %v, want ErrCompilerNotFound", err)
	}
}

func TestInvoke_WriteFailureSkipsRun(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	ws := workspace.NewManager(filepath.Join(t.TempDir(), "absent"), nil)
	inv := NewInvoker(ws, NewExecRunner(nil), bin, nil)

	_, err := inv.Invoke(context.Background(), "doc", "x")
	if !errors.Is(err, domain.ErrWorkspaceIO) {
		t.Fatalf("err = %v, want ErrWorkspaceIO", err)
	}
	if _, statErr := os.Stat(bin + ".args"); !os.IsNotExist(statErr) {
		t.Error("compiler ran although the source write failed")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	inv := newTestInvoker(t, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, "doc", testutil.MarkSleep)
	if !errors.Is(err, domain.ErrCompilerTimeout) {
		t.Fatalf("err = %v, want ErrCompilerTimeout", err)
	}
}

func TestAvailable(t *testing.T) {
	bin := testutil.FakeCompiler(t)
	if !newTestInvoker(t, bin).Available(context.Background()) {
		t.Error("Available = false for fake compiler")
	}
	missing := newTestInvoker(t, filepath.Join(t.TempDir(), "nope"))
	if missing.Available(context.Background()) {
		t.Error("Available = true for missing binary")
	}
}

func TestNewInvoker_DefaultBinary(t *testing.T) {
	inv := NewInvoker(workspace.NewManager(t.TempDir(), nil), NewExecRunner(nil), "", nil)
	if inv.Binary != DefaultBinary {
		t.Errorf("Binary = %q, want %q", inv.Binary, DefaultBinary)
	}
}
