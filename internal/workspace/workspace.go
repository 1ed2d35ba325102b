// Package workspace owns the on-disk compilation directory shared by all documents.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vitae-app/vitae/internal/domain"
)

const (
	sourceExt   = ".tex"
	artifactExt = ".pdf"
)

// generatedExts are the files a compiler run leaves behind for a document.
var generatedExts = []string{artifactExt, ".aux", ".log", ".out"}

// Manager resolves and maintains the id-named files under Root.
// It holds no mutable state beyond the filesystem itself.
type Manager struct {
	Root   string
	Logger *slog.Logger
}

// NewManager creates a Manager rooted at root, made absolute against the
// current directory.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Manager{Root: root, Logger: logger}
}

// EnsureRoot creates the workspace root if it is missing.
func (m *Manager) EnsureRoot() error {
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return domain.WrapEngineError(domain.ErrWorkspaceIO.Code, "create workspace "+m.Root, err)
	}
	return nil
}

// ValidateID rejects ids that would resolve outside the workspace root.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\:`) || strings.ContainsRune(id, 0) {
		return domain.NewEngineError(domain.ErrInvalidDocumentID.Code, fmt.Sprintf("%s: %q", domain.ErrInvalidDocumentID.Message, id))
	}
	return nil
}

// SourcePath returns the path of the document's source file.
func (m *Manager) SourcePath(id string) string {
	return filepath.Join(m.Root, id+sourceExt)
}

// ArtifactPath returns the path of the document's rendered artifact.
func (m *Manager) ArtifactPath(id string) string {
	return filepath.Join(m.Root, id+artifactExt)
}

// ArtifactExists reports whether the artifact for id is present as a regular file.
func (m *Manager) ArtifactExists(id string) bool {
	info, err := os.Stat(m.ArtifactPath(id))
	return err == nil && info.Mode().IsRegular()
}

// Clean removes the artifact and auxiliary files left by a previous attempt.
// Removal is best-effort: failures are logged and never abort the attempt.
func (m *Manager) Clean(id string) {
	for _, ext := range generatedExts {
		m.remove(filepath.Join(m.Root, id+ext))
	}
}

// Purge removes every file belonging to id, including the source.
func (m *Manager) Purge(id string) {
	m.Clean(id)
	m.remove(m.SourcePath(id))
}

// IDs lists the document ids that have at least one managed file under Root.
// A missing root yields no ids.
func (m *Manager) IDs() ([]string, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.WrapEngineError(domain.ErrWorkspaceIO.Code, "list workspace "+m.Root, err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !isManagedExt(ext) {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if ValidateID(id) != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func isManagedExt(ext string) bool {
	if ext == sourceExt {
		return true
	}
	for _, g := range generatedExts {
		if ext == g {
			return true
		}
	}
	return false
}

func (m *Manager) remove(p string) {
	err := os.Remove(p)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	m.Logger.Warn("stale workspace file not removed", "path", p, "error", err)
}

// WriteSource writes content to the document's source file, replacing any
// previous content. The data is synced before WriteSource returns.
func (m *Manager) WriteSource(id, content string) (string, error) {
	p := m.SourcePath(id)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrWorkspaceIO.Code, "open source file", err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		return "", domain.WrapEngineError(domain.ErrWorkspaceIO.Code, "write source file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", domain.WrapEngineError(domain.ErrWorkspaceIO.Code, "sync source file", err)
	}
	if err := f.Close(); err != nil {
		return "", domain.WrapEngineError(domain.ErrWorkspaceIO.Code, "close source file", err)
	}
	return p, nil
}

// Export copies the most recent artifact for id to dest.
func (m *Manager) Export(id, dest string) error {
	src, err := os.Open(m.ArtifactPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrArtifactNotFound
		}
		return domain.ErrExportFailed.Wrap(err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return domain.ErrExportFailed.Wrap(err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return domain.ErrExportFailed.Wrap(err)
	}
	if err := out.Close(); err != nil {
		return domain.ErrExportFailed.Wrap(err)
	}
	return nil
}

// NeutralPath converts p to forward-slash form for callers on any platform.
func NeutralPath(p string) string {
	return filepath.ToSlash(p)
}
