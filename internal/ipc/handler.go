// Package ipc provides the HTTP API for the vitae editor.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vitae-app/vitae/internal/domain"
	"github.com/vitae-app/vitae/internal/editor"
	"github.com/vitae-app/vitae/internal/guard"
)

// defaultHistoryLimit is used when ?limit is absent or invalid.
const defaultHistoryLimit = 20

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Service *editor.Service
	Guard   *guard.Guard
	Feed    domain.CompileFeed
	Origins *OriginPolicy
	// TrustedProxies are peer addresses whose X-Forwarded-For is believed.
	TrustedProxies []string
	Version        string
	Logger         *slog.Logger
}

// NewHandler creates a Handler. feed may be nil, which disables event streams.
func NewHandler(svc *editor.Service, g *guard.Guard, feed domain.CompileFeed, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service: svc,
		Guard:   g,
		Feed:    feed,
		Origins: NewOriginPolicy(DefaultAllowedOrigins),
		Logger:  logger,
	}
}

// CreateDocumentRequest is the body for POST /api/v1/documents.
type CreateDocumentRequest struct {
	Title string `json:"title"`
}

// SaveDocumentRequest is the body for PUT /api/v1/documents/{id}.
type SaveDocumentRequest struct {
	Content *string `json:"content"`
}

// RenameDocumentRequest is the body for PATCH /api/v1/documents/{id}.
type RenameDocumentRequest struct {
	Title string `json:"title"`
}

// CompileRequest is the optional body for POST /api/v1/documents/{id}/compile.
// When Content is set it is saved before compiling.
type CompileRequest struct {
	Content *string `json:"content"`
}

// ExportRequest is the body for POST /api/v1/documents/{id}/export.
// Destination must be an absolute path ending in .pdf.
type ExportRequest struct {
	Destination string `json:"destination"`
}

// CompilerStatus is the response for GET /api/v1/compiler.
type CompilerStatus struct {
	Binary    string `json:"binary"`
	Available bool   `json:"available"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}

// GetCompiler handles GET /api/v1/compiler.
func (h *Handler) GetCompiler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CompilerStatus{
		Binary:    h.Service.Coordinator.Invoker.Binary,
		Available: h.Service.CompilerAvailable(r.Context()),
	})
}

// ListDocuments handles GET /api/v1/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Service.ListDocuments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// CreateDocument handles POST /api/v1/documents.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	doc, err := h.Service.CreateDocument(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetDocument handles GET /api/v1/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// SaveDocument handles PUT /api/v1/documents/{id}.
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	var req SaveDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Content == nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "content is required"})
		return
	}

	if err := h.Service.SaveDocument(r.Context(), r.PathValue("id"), *req.Content); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameDocument handles PATCH /api/v1/documents/{id}.
func (h *Handler) RenameDocument(w http.ResponseWriter, r *http.Request) {
	var req RenameDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	if err := h.Service.RenameDocument(r.Context(), r.PathValue("id"), req.Title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Compile handles POST /api/v1/documents/{id}/compile.
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req CompileRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if err := h.Guard.CheckRateLimit(h.clientKey(r)); err != nil {
		writeError(w, err)
		return
	}

	var (
		result *domain.CompilationResult
		err    error
	)
	if req.Content != nil {
		result, err = h.Service.SaveAndCompile(r.Context(), id, *req.Content)
	} else {
		result, err = h.Service.Compile(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetArtifact handles GET /api/v1/documents/{id}/artifact.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	path, err := h.Service.Artifact(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}

// Export handles POST /api/v1/documents/{id}/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Destination == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "destination is required"})
		return
	}
	if !filepath.IsAbs(req.Destination) || !strings.EqualFold(filepath.Ext(req.Destination), ".pdf") {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "destination must be an absolute .pdf path"})
		return
	}

	if err := h.Service.Export(r.Context(), r.PathValue("id"), req.Destination); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCompilations handles GET /api/v1/documents/{id}/compilations?limit=N.
func (h *Handler) ListCompilations(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err == nil {
			limit = parsed
		}
	}

	recs, err := h.Service.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// StreamEvents handles GET /api/v1/events (SSE) with every finished
// compilation. ?document_id=X restricts the stream to one document.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}
	if h.Feed == nil {
		writeError(w, domain.ErrFeedUnavailable)
		return
	}

	ctx := r.Context()
	events, err := h.Feed.Subscribe(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	only := r.URL.Query().Get("document_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if only != "" && ev.DocumentID != only {
				continue
			}
			writeSSEEvent(w, flusher, ev)
		}
	}
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps an engine error code to an HTTP status.
func errorStatus(engErr *domain.EngineError) int {
	switch engErr.Code {
	case domain.ErrDocumentNotFound.Code, domain.ErrArtifactNotFound.Code:
		return http.StatusNotFound
	case domain.ErrInvalidDocumentID.Code, domain.ErrConfigInvalid.Code:
		return http.StatusBadRequest
	case domain.ErrRateLimitExceeded.Code:
		return http.StatusTooManyRequests
	case domain.ErrCompilerNotFound.Code, domain.ErrFeedUnavailable.Code:
		return http.StatusServiceUnavailable
	case domain.ErrCompilerTimeout.Code:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		writeJSON(w, errorStatus(engErr), APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.CompileEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}
