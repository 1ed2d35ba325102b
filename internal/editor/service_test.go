package editor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vitae-app/vitae/internal/compiler"
	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/platform/feed"
	"github.com/vitae-app/vitae/internal/store"
	"github.com/vitae-app/vitae/internal/testutil"
	"github.com/vitae-app/vitae/internal/workflow"
	"github.com/vitae-app/vitae/internal/workspace"
)

const cleanSource = "\\documentclass{article}\n\\begin{document}\nHello.\n\\end{document}\n"

// newTestService creates a Service over a temp DB, a temp workspace, and the
// fake compiler.
func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ws := workspace.NewManager(filepath.Join(dir, "temp"), nil)
	inv := compiler.NewInvoker(ws, compiler.NewExecRunner(nil), testutil.FakeCompiler(t), nil)
	return NewService(db, workflow.NewCoordinator(ws, inv, nil), nil, nil)
}

func createDoc(t *testing.T, s *Service) *domain.Document {
	t.Helper()
	doc, err := s.CreateDocument(context.Background(), "Thesis")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func TestCreateDocument_BlankTitle(t *testing.T) {
	s := newTestService(t)
	doc, err := s.CreateDocument(context.Background(), "   ")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", doc.Title, DefaultTitle)
	}
	if !strings.Contains(doc.Content, `\title{`+DefaultTitle+`}`) {
		t.Errorf("template not filled with title:\n%s", doc.Content)
	}
}

func TestListDocuments_EmptyIsNotNil(t *testing.T) {
	s := newTestService(t)
	docs, err := s.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("docs = %#v, want empty slice", docs)
	}
}

func TestSaveAndRename(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, s)

	if err := s.SaveDocument(ctx, doc.ID, cleanSource); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.RenameDocument(ctx, doc.ID, "  Paper "); err != nil {
		t.Fatalf("RenameDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Content != cleanSource || got.Title != "Paper" {
		t.Errorf("got %+v", got)
	}
}

func TestSaveDocument_NotFound(t *testing.T) {
	s := newTestService(t)
	err := s.SaveDocument(context.Background(), "missing", "x")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestCompile_UsesStoredContentAndRecordsHistory(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, s)
	if err := s.SaveDocument(ctx, doc.ID, cleanSource+testutil.MarkWarning+"\n"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Compile(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Success || !res.HasArtifact() {
		t.Fatalf("result = %+v", res)
	}

	hist, err := s.History(ctx, doc.ID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(hist))
	}
	rec := hist[0]
	if !rec.Success || rec.WarningCount != 1 || rec.ErrorCount != 0 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ArtifactPath != res.ArtifactPath {
		t.Errorf("record artifact = %q, want %q", rec.ArtifactPath, res.ArtifactPath)
	}
	if rec.DurationMS < 0 {
		t.Errorf("DurationMS = %d", rec.DurationMS)
	}
}

func TestCompile_DocumentNotFound(t *testing.T) {
	s := newTestService(t)
	_, err := s.Compile(context.Background(), "missing")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestSaveAndCompile_SavesBeforeCompiling(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, s)

	src := cleanSource + testutil.MarkError + "\n"
	res, err := s.SaveAndCompile(ctx, doc.ID, src)
	if err != nil {
		t.Fatalf("SaveAndCompile: %v", err)
	}
	if res.Success {
		t.Error("Success = true for source with an error")
	}

	got, _ := s.GetDocument(ctx, doc.ID)
	if got.Content != src {
		t.Error("content was not saved")
	}
	hist, _ := s.History(ctx, doc.ID, 0)
	if len(hist) != 1 || hist[0].ErrorCount != 1 {
		t.Errorf("history = %+v", hist)
	}
}

func TestSaveAndCompile_PublishesEvent(t *testing.T) {
	s := newTestService(t)
	mem := feed.NewMemoryFeed(nil)
	s.Feed = mem

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := mem.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	doc := createDoc(t, s)
	if _, err := s.SaveAndCompile(ctx, doc.ID, cleanSource); err != nil {
		t.Fatalf("SaveAndCompile: %v", err)
	}

	select {
	case ev := <-events:
		if ev.DocumentID != doc.ID || ev.Result == nil || !ev.Result.Success {
			t.Errorf("event = %+v", ev)
		}
		if _, err := time.Parse(domain.TimestampLayout, ev.FinishedAt); err != nil {
			t.Errorf("FinishedAt %q: %v", ev.FinishedAt, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no compile event published")
	}
}

type failingFeed struct{}

func (failingFeed) Publish(context.Context, domain.CompileEvent) error {
	return domain.ErrFeedUnavailable
}

func (failingFeed) Subscribe(context.Context) (<-chan domain.CompileEvent, error) {
	return nil, domain.ErrFeedUnavailable
}

func TestSaveAndCompile_FeedFailureIsNotFatal(t *testing.T) {
	s := newTestService(t)
	s.Feed = failingFeed{}
	doc := createDoc(t, s)

	res, err := s.SaveAndCompile(context.Background(), doc.ID, cleanSource)
	if err != nil {
		t.Fatalf("SaveAndCompile: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestSaveAndCompile_SameDocumentIsSerialized(t *testing.T) {
	s := newTestService(t)
	doc := createDoc(t, s)

	var mu sync.Mutex
	var states []domain.CompileState
	s.Coordinator.Observer = func(_ string, st domain.CompileState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SaveAndCompile(context.Background(), doc.ID, cleanSource); err != nil {
				t.Errorf("SaveAndCompile: %v", err)
			}
		}()
	}
	wg.Wait()

	one := []domain.CompileState{
		domain.StateCleaning, domain.StateWriting, domain.StateInvoking,
		domain.StateParsing, domain.StateDone,
	}
	var want []domain.CompileState
	for i := 0; i < 3; i++ {
		want = append(want, one...)
	}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("attempts interleaved: %v", states)
	}
}

func TestSaveAndCompile_CallerCancelDoesNotAbortRun(t *testing.T) {
	s := newTestService(t)
	doc := createDoc(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := s.SaveAndCompile(ctx, doc.ID, cleanSource+testutil.MarkSleep+"\n")
	if err != nil {
		t.Fatalf("SaveAndCompile: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestSaveAndCompile_Timeout(t *testing.T) {
	s := newTestService(t)
	s.Timeout = 200 * time.Millisecond
	doc := createDoc(t, s)

	_, err := s.SaveAndCompile(context.Background(), doc.ID, cleanSource+testutil.MarkSleep+"\n")
	if !errors.Is(err, domain.ErrCompilerTimeout) {
		t.Fatalf("expected ErrCompilerTimeout, got %v", err)
	}

	hist, _ := s.History(context.Background(), doc.ID, 0)
	if len(hist) != 0 {
		t.Errorf("aborted run was recorded: %+v", hist)
	}
}

func TestExport(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, s)
	dest := filepath.Join(t.TempDir(), "out.pdf")

	if err := s.Export(ctx, doc.ID, dest); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("before compile: expected ErrArtifactNotFound, got %v", err)
	}
	if _, err := s.Artifact(ctx, doc.ID); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Fatalf("Artifact before compile: %v", err)
	}

	if _, err := s.SaveAndCompile(ctx, doc.ID, cleanSource); err != nil {
		t.Fatal(err)
	}
	if err := s.Export(ctx, doc.ID, dest); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Errorf("exported data = %q", data)
	}

	path, err := s.Artifact(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if filepath.Base(path) != doc.ID+".pdf" {
		t.Errorf("Artifact = %q", path)
	}
}

func TestExport_UnknownDocument(t *testing.T) {
	s := newTestService(t)
	err := s.Export(context.Background(), "missing", filepath.Join(t.TempDir(), "x.pdf"))
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestDeleteDocument_PurgesEverything(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, s)
	if _, err := s.SaveAndCompile(ctx, doc.ID, cleanSource); err != nil {
		t.Fatal(err)
	}

	ws := s.Coordinator.Workspace
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := s.GetDocument(ctx, doc.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("GetDocument after delete: %v", err)
	}
	for _, p := range []string{ws.SourcePath(doc.ID), ws.ArtifactPath(doc.ID)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", filepath.Base(p))
		}
	}
	recs, err := s.Compilations.ListByDocument(ctx, s.DB, doc.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("history not purged: %+v", recs)
	}

	if err := s.DeleteDocument(ctx, doc.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestCompilerAvailable(t *testing.T) {
	s := newTestService(t)
	if !s.CompilerAvailable(context.Background()) {
		t.Error("CompilerAvailable = false for fake compiler")
	}
}

func TestDeleteDocument_HistoryFailureKeepsDocument(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	doc := createDoc(t, s)

	if _, err := s.DB.ExecContext(ctx, `DROP TABLE compilations`); err != nil {
		t.Fatal(err)
	}
	err := s.DeleteDocument(ctx, doc.ID)
	if !errors.Is(err, domain.ErrStoreWrite) {
		t.Fatalf("DeleteDocument = %v, want ErrStoreWrite", err)
	}
	if _, err := s.GetDocument(ctx, doc.ID); err != nil {
		t.Errorf("document lost after failed delete: %v", err)
	}
}
