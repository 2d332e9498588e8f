package app

import (
	"net/http"
	"strconv"

	"canvas/api/internal/workspace"
)

func (s *HTTPServer) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	items, err := s.service.ListWorkspaces(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "workspaces": items})
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var body struct {
		Name string `json:"name"`
		Icon string `json:"icon"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ws, err := s.service.CreateWorkspace(r.Context(), identity, body.Name, body.Icon)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "workspace": ws})
}

// handleUpdateWorkspace takes {id, ...patch}. Fields other than id that are
// not part of a patch are ignored.
func (s *HTTPServer) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(data, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.ID == "" {
		writeDomainError(w, validationError("id", "id is required"))
		return
	}
	var patch workspace.Patch
	if err := decodeJSON(data, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ws, err := s.service.UpdateWorkspace(r.Context(), identity, body.ID, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "workspace": ws})
}

func (s *HTTPServer) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if err := s.service.DeleteWorkspace(r.Context(), identity, r.URL.Query().Get("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleSearchWorkspaces(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	query := r.URL.Query()
	resp := s.service.SearchWorkspaces(r.Context(), identity.UserID, query.Get("q"), queryInt(query.Get("limit")))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   resp.Query,
		"results": resp.Results,
	})
}

func (s *HTTPServer) handleWorkspaceHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	query := r.URL.Query()
	commits, err := s.service.WorkspaceHistory(r.Context(), identity.UserID, query.Get("id"), queryInt(query.Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": commits})
}

func (s *HTTPServer) handleExportWorkspace(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	query := r.URL.Query()
	result, err := s.service.ExportWorkspace(r.Context(), identity.UserID, query.Get("id"), query.Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// queryInt returns 0 for a missing or malformed value so callers apply
// their default.
func queryInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
