package ipc

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Server wraps an HTTP server with editor-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	// Health endpoints.
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/compiler", h.GetCompiler)

	// Document endpoints.
	mux.HandleFunc("GET /api/v1/documents", h.ListDocuments)
	mux.HandleFunc("POST /api/v1/documents", h.CreateDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.SaveDocument)
	mux.HandleFunc("PATCH /api/v1/documents/{id}", h.RenameDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)

	// Compilation endpoints.
	mux.HandleFunc("POST /api/v1/documents/{id}/compile", h.Compile)
	mux.HandleFunc("GET /api/v1/documents/{id}/artifact", h.GetArtifact)
	mux.HandleFunc("POST /api/v1/documents/{id}/export", h.Export)
	mux.HandleFunc("GET /api/v1/documents/{id}/compilations", h.ListCompilations)

	// Streaming endpoints.
	mux.HandleFunc("GET /api/v1/documents/{id}/live", h.Live)
	mux.HandleFunc("GET /api/v1/events", h.StreamEvents)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           corsMiddleware(h.Origins, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on l. Blocks until the server stops.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer.Serve(l)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware refuses requests from origins outside policy and echoes
// allowed origins back in the CORS headers.
func corsMiddleware(policy *OriginPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		if !policy.Allowed(r) {
			writeJSON(w, http.StatusForbidden, APIError{Code: 403, Message: "origin not allowed"})
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FormatListenURL turns a listen address into a browsable URL.
// An empty or unspecified host becomes 127.0.0.1.
func FormatListenURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://" + listenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
