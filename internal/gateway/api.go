// ABOUTME: Read-only REST endpoints for signatures, stats and document downloads
// ABOUTME: Mutations stay on the websocket protocol so every change is broadcast

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/stampdesk/internal/store"
	"github.com/2389/stampdesk/internal/workflow"
)

// SignaturesResponse is the body of GET /api/signatures.
type SignaturesResponse struct {
	Signatures []*store.SignatureEntry `json:"signatures"`
	Stats      store.Stats             `json:"stats"`
}

// handleListSignatures returns entries newest first, filtered by the
// optional status and docType query parameters.
func (g *Gateway) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Status: store.Status(q.Get("status")), DocType: q.Get("docType")}
	if f.Status != "" && !f.Status.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", f.Status))
		return
	}

	g.writeJSON(w, http.StatusOK, SignaturesResponse{
		Signatures: g.service.List(r.Context(), f),
		Stats:      g.service.Stats(r.Context()),
	})
}

func (g *Gateway) handleGetSignature(w http.ResponseWriter, r *http.Request) {
	e, err := g.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendWorkflowError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, e)
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.service.Stats(r.Context()))
}

// handleDownload streams the original or signed document of an entry.
func (g *Gateway) handleDownload(w http.ResponseWriter, r *http.Request) {
	e, err := g.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendWorkflowError(w, err)
		return
	}

	path := e.OriginalFilePath
	if strings.HasSuffix(r.URL.Path, "/signed") {
		path = e.SignedFile()
		if path == "" {
			g.sendJSONError(w, http.StatusNotFound, "entry has no signed document")
			return
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			g.sendJSONError(w, http.StatusNotFound, "document not found")
			return
		}
		g.logger.Error("opening document", "id", e.ID, "path", path, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "cannot open document")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		g.sendJSONError(w, http.StatusNotFound, "document not found")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// statusForKind maps workflow error kinds to HTTP status codes.
func statusForKind(kind workflow.Kind) int {
	switch kind {
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindConflict:
		return http.StatusConflict
	case workflow.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) sendWorkflowError(w http.ResponseWriter, err error) {
	kind := workflow.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": string(kind)})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}
