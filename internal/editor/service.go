// Package editor is the application layer over the document store and the
// compilation coordinator. It serializes work per document and records
// every finished compilation.
package editor

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/guard"
	"github.com/vitae-app/vitae/internal/store"
	"github.com/vitae-app/vitae/internal/workflow"
)

// DefaultTitle is used when a document is created with a blank title.
const DefaultTitle = "Untitled Document"

// Service implements the document and compile operations.
type Service struct {
	DB           *sql.DB
	Documents    *store.DocumentRepo
	Compilations *store.CompilationRepo
	Coordinator  *workflow.Coordinator
	Feed         domain.CompileFeed
	Locks        *guard.KeyedMutex
	// Timeout bounds a single compiler run. Zero means no limit.
	Timeout time.Duration
	Logger  *slog.Logger

	now func() time.Time
}

// NewService wires a Service. feed may be nil.
func NewService(db *sql.DB, coord *workflow.Coordinator, feed domain.CompileFeed, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		DB:           db,
		Documents:    &store.DocumentRepo{},
		Compilations: &store.CompilationRepo{},
		Coordinator:  coord,
		Feed:         feed,
		Locks:        guard.NewKeyedMutex(),
		Logger:       logger,
		now:          time.Now,
	}
}

// CreateDocument stores a new document seeded with the default template.
func (s *Service) CreateDocument(ctx context.Context, title string) (*domain.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	doc, err := s.Documents.Create(ctx, s.DB, title)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("document created", "document_id", doc.ID, "title", doc.Title)
	return doc, nil
}

// ListDocuments returns every document, most recently updated first.
func (s *Service) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	docs, err := s.Documents.List(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// GetDocument returns one document.
func (s *Service) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.Documents.Get(ctx, s.DB, id)
}

// SaveDocument replaces the content of a document.
func (s *Service) SaveDocument(ctx context.Context, id, content string) error {
	unlock := s.Locks.Lock(id)
	defer unlock()
	return s.Documents.Update(ctx, s.DB, id, content)
}

// RenameDocument changes the title of a document.
func (s *Service) RenameDocument(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return s.Documents.Rename(ctx, s.DB, id, title)
}

// DeleteDocument removes a document along with its history and workspace files.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	unlock := s.Locks.Lock(id)
	defer unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin tx", err)
	}
	defer tx.Rollback()

	if err := s.Documents.DeleteTx(ctx, tx, id); err != nil {
		return err
	}
	if err := s.Compilations.DeleteByDocumentTx(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "commit", err)
	}
	s.Coordinator.Workspace.Purge(id)
	s.Logger.Info("document deleted", "document_id", id)
	return nil
}

// Compile compiles the stored content of a document.
func (s *Service) Compile(ctx context.Context, id string) (*domain.CompilationResult, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	doc, err := s.Documents.Get(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	return s.compile(ctx, id, doc.Content, nil)
}

// SaveAndCompile stores content and compiles it as one exclusive step.
func (s *Service) SaveAndCompile(ctx context.Context, id, content string) (*domain.CompilationResult, error) {
	return s.SaveAndCompileObserved(ctx, id, content, nil)
}

// SaveAndCompileObserved is SaveAndCompile with a per-call state observer.
func (s *Service) SaveAndCompileObserved(ctx context.Context, id, content string, observer workflow.Observer) (*domain.CompilationResult, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	if err := s.Documents.Update(ctx, s.DB, id, content); err != nil {
		return nil, err
	}
	return s.compile(ctx, id, content, observer)
}

// compile runs one attempt. Caller holds the document lock.
// The run ignores ctx cancellation; only Timeout stops it.
func (s *Service) compile(ctx context.Context, id, content string, observer workflow.Observer) (*domain.CompilationResult, error) {
	runCtx := context.WithoutCancel(ctx)
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.Timeout)
		defer cancel()
	}

	start := s.now()
	result, err := s.Coordinator.CompileObserved(runCtx, id, content, observer)
	if err != nil {
		s.Logger.Error("compilation aborted", "document_id", id, "error", err)
		return nil, err
	}
	finished := s.now()

	s.record(runCtx, id, result, finished.Sub(start))
	s.publish(runCtx, id, result, finished)
	return result, nil
}

func (s *Service) record(ctx context.Context, id string, result *domain.CompilationResult, elapsed time.Duration) {
	errs, warns := result.Counts()
	rec := domain.CompilationRecord{
		DocumentID:   id,
		Success:      result.Success,
		ArtifactPath: result.ArtifactPath,
		Diagnostics:  result.Diagnostics,
		ErrorCount:   errs,
		WarningCount: warns,
		DurationMS:   elapsed.Milliseconds(),
	}
	if _, err := s.Compilations.Record(ctx, s.DB, rec); err != nil {
		s.Logger.Warn("failed to record compilation", "document_id", id, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, id string, result *domain.CompilationResult, finished time.Time) {
	if s.Feed == nil {
		return
	}
	ev := domain.CompileEvent{
		DocumentID: id,
		Result:     result,
		FinishedAt: finished.UTC().Format(domain.TimestampLayout),
	}
	if err := s.Feed.Publish(ctx, ev); err != nil {
		s.Logger.Warn("failed to publish compile event", "document_id", id, "error", err)
	}
}

// Export copies the last artifact of a document to dest.
func (s *Service) Export(ctx context.Context, id, dest string) error {
	unlock := s.Locks.Lock(id)
	defer unlock()

	if _, err := s.Documents.Get(ctx, s.DB, id); err != nil {
		return err
	}
	if err := s.Coordinator.Export(id, dest); err != nil {
		return err
	}
	s.Logger.Info("artifact exported", "document_id", id, "dest", dest)
	return nil
}

// Artifact returns the host path of the last artifact of a document.
func (s *Service) Artifact(ctx context.Context, id string) (string, error) {
	if _, err := s.Documents.Get(ctx, s.DB, id); err != nil {
		return "", err
	}
	ws := s.Coordinator.Workspace
	if !ws.ArtifactExists(id) {
		return "", domain.ErrArtifactNotFound
	}
	return ws.ArtifactPath(id), nil
}

// CompilerAvailable reports whether the configured compiler can be started.
func (s *Service) CompilerAvailable(ctx context.Context) bool {
	return s.Coordinator.CompilerAvailable(ctx)
}

// History returns up to limit compilation records, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]domain.CompilationRecord, error) {
	if _, err := s.Documents.Get(ctx, s.DB, id); err != nil {
		return nil, err
	}
	recs, err := s.Compilations.ListByDocument(ctx, s.DB, id, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []domain.CompilationRecord{}
	}
	return recs, nil
}
