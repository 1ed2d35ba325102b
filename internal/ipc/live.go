package ipc

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitae-app/vitae/internal/domain"
)

const liveWriteWait = 10 * time.Second

// Live message types sent to the client.
const (
	MsgState    = "state"    // a step of the client's own compilation
	MsgResult   = "result"   // outcome of the client's own compilation
	MsgError    = "error"    // the request could not be served
	MsgCompiled = "compiled" // any compilation of this document finished
)

// LiveRequest is a client message on the live socket.
type LiveRequest struct {
	Content string `json:"content"`
}

// LiveMessage is a server message on the live socket.
type LiveMessage struct {
	Type       string                    `json:"type"`
	DocumentID string                    `json:"document_id"`
	State      domain.CompileState       `json:"state,omitempty"`
	Result     *domain.CompilationResult `json:"result,omitempty"`
	Error      *APIError                 `json:"error,omitempty"`
	FinishedAt string                    `json:"finished_at,omitempty"`
}

// liveConn serializes writes to a websocket connection.
type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) send(msg LiveMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return c.conn.WriteJSON(msg)
}

// Live handles GET /api/v1/documents/{id}/live. Each client message saves and
// compiles the document; the client receives state transitions followed by
// the result. Compilations started elsewhere arrive as "compiled" messages.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Service.GetDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.Origins.Allowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("websocket upgrade failed", "error", err)
		return
	}
	lc := &liveConn{conn: conn}
	h.Logger.Info("live client connected", "document_id", id, "remote_addr", conn.RemoteAddr().String())

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		conn.Close()
		h.Logger.Info("live client disconnected", "document_id", id)
	}()

	if h.Feed != nil {
		events, err := h.Feed.Subscribe(ctx)
		if err != nil {
			h.Logger.Warn("live feed unavailable", "document_id", id, "error", err)
		} else {
			go h.forwardEvents(ctx, lc, id, events)
		}
	}

	for {
		var req LiveRequest
		if err := conn.ReadJSON(&req); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.Logger.Debug("live read ended", "document_id", id, "error", err)
			}
			return
		}
		if err := h.liveCompile(ctx, lc, r, id, req.Content); err != nil {
			h.Logger.Warn("live write failed", "document_id", id, "error", err)
			return
		}
	}
}

// liveCompile runs one client-requested compilation and reports it on lc.
// It returns an error only when the connection can no longer be written.
func (h *Handler) liveCompile(ctx context.Context, lc *liveConn, r *http.Request, id, content string) error {
	if err := h.Guard.CheckRateLimit(h.clientKey(r)); err != nil {
		return lc.send(errorMessage(id, err))
	}

	var writeErr error
	observer := func(docID string, s domain.CompileState) {
		if writeErr == nil {
			writeErr = lc.send(LiveMessage{Type: MsgState, DocumentID: docID, State: s})
		}
	}
	result, err := h.Service.SaveAndCompileObserved(ctx, id, content, observer)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return lc.send(errorMessage(id, err))
	}
	return lc.send(LiveMessage{Type: MsgResult, DocumentID: id, Result: result})
}

func (h *Handler) forwardEvents(ctx context.Context, lc *liveConn, id string, events <-chan domain.CompileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.DocumentID != id {
				continue
			}
			msg := LiveMessage{Type: MsgCompiled, DocumentID: id, Result: ev.Result, FinishedAt: ev.FinishedAt}
			if err := lc.send(msg); err != nil {
				return
			}
		}
	}
}

func errorMessage(id string, err error) LiveMessage {
	apiErr := &APIError{Code: -1, Message: err.Error()}
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		apiErr = &APIError{Code: engErr.Code, Message: engErr.Message}
	}
	return LiveMessage{Type: MsgError, DocumentID: id, Error: apiErr}
}
