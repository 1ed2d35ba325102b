// Package testutil provides a scripted stand-in for pdflatex used by tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Markers placed in a document's content steer the fake compiler.
const (
	MarkWarning = "%FAKE-WARN"  // emit a LaTeX warning, produce the artifact
	MarkError   = "%FAKE-ERROR" // emit a located error, still produce the artifact
	MarkNoPDF   = "%FAKE-NOPDF" // exit 1 silently without an artifact
	MarkFatal   = "%FAKE-FATAL" // emit "! Emergency stop." without an artifact
	MarkSleep   = "%FAKE-SLEEP" // sleep for a few seconds before finishing
)

const script = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "pdfTeX 3.141592653 (fake)"
  exit 0
fi
printf '%s\n' "$@" > "$0.args"
outdir=""
src=""
while [ $# -gt 0 ]; do
  case "$1" in
    -output-directory) shift; outdir="$1" ;;
    -*) ;;
    *) src="$1" ;;
  esac
  shift
done
base=$(basename "$src" .tex)
echo "This is pdfTeX, Version 3.141592653 (fake)"
if grep -q '%FAKE-SLEEP' "$src"; then sleep 3; fi
if grep -q '%FAKE-NOPDF' "$src"; then exit 1; fi
if grep -q '%FAKE-FATAL' "$src"; then
  echo "! Emergency stop."
  echo "<*> $base.tex"
  exit 1
fi
status=0
if grep -q '%FAKE-WARN' "$src"; then
  echo "LaTeX Warning: Reference undefined"
fi
if grep -q '%FAKE-ERROR' "$src"; then
  echo "./$base.tex:12: Undefined control sequence."
  printf '%s\n' 'l.12 \foo'
  status=1
fi
printf '%%PDF-1.4\n%%fake\n' > "$outdir/$base.pdf"
echo "Output written on $base.pdf (1 page)."
exit $status
`

// FakeCompiler writes an executable pdflatex stand-in and returns its absolute path.
// Tests using it are skipped on Windows.
func FakeCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler requires a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "fake-pdflatex")
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake compiler: %v", err)
	}
	return p
}

// LastArgs returns the arguments of the most recent run of the fake compiler at bin.
func LastArgs(t *testing.T, bin string) []string {
	t.Helper()
	data, err := os.ReadFile(bin + ".args")
	if err != nil {
		t.Fatalf("read fake compiler args: %v", err)
	}
	var args []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			args = append(args, string(data[start:i]))
			start = i + 1
		}
	}
	return args
}
