package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/CodeWithAsheville/zipcase/pkg/canon"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/session"
	"github.com/CodeWithAsheville/zipcase/pkg/types"
)

type searchRequest struct {
	Search    string `json:"search"`
	UserAgent string `json:"userAgent,omitempty"`
}

type statusRequest struct {
	CaseNumbers []string `json:"caseNumbers"`
}

type nameSearchRequest struct {
	Name         string `json:"name"`
	DateOfBirth  string `json:"dateOfBirth,omitempty"`
	SoundsLike   bool   `json:"soundsLike,omitempty"`
	CriminalOnly bool   `json:"criminalOnly,omitempty"`
}

type portalCredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleSearch implements POST /search (spec §6.1): parse free-form
// input, dispatch whatever work is needed, and return the resulting
// per-case state.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Search) == "" {
		writeError(w, http.StatusBadRequest, "Missing search parameter")
		return
	}

	userID := userIDFromContext(r.Context())
	results, err := s.coordinator.Ingest(r.Context(), req.Search, userID, req.UserAgent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

// handleStatus implements POST /status: a read-only poll that never
// mutates or enqueues.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.CaseNumbers) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"results": map[string]types.SearchResult{}})
		return
	}

	results, err := s.coordinator.Status(r.Context(), req.CaseNumbers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleGetCase implements GET /case/{caseNumber}: a single-case
// submit+poll endpoint. It canonicalizes the path segment, runs it
// through the same Ingest path as POST /search, and maps an
// authentication failure recorded on the case onto the 401/403 codes
// spec §6.1 names for this route.
func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	canonical := canon.Canonicalize(r.PathValue("caseNumber"))
	if len(canonical) == 0 {
		writeError(w, http.StatusBadRequest, "invalid case number")
		return
	}
	caseNumber := canonical[0]

	userID := userIDFromContext(r.Context())
	results, err := s.coordinator.Ingest(r.Context(), caseNumber, userID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "case lookup failed")
		return
	}

	result, ok := results[caseNumber]
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
		return
	}

	if result.ZipCase.FetchStatus == types.FetchStatusFailed {
		switch {
		case strings.Contains(result.ZipCase.Message, "no portal credentials on file"):
			writeError(w, http.StatusForbidden, "Portal credentials required")
			return
		case strings.Contains(result.ZipCase.Message, "credentials marked invalid"),
			strings.Contains(result.ZipCase.Message, "Authentication failed"),
			strings.Contains(result.ZipCase.Message, "authentication failed"):
			writeError(w, http.StatusUnauthorized, "Authentication failed")
			return
		}
	}

	status := http.StatusAccepted
	if result.ZipCase.FetchStatus == types.FetchStatusComplete {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"results": results})
}

// handleNameSearch implements POST /name-search.
func (s *Server) handleNameSearch(w http.ResponseWriter, r *http.Request) {
	var req nameSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Missing name parameter")
		return
	}

	userID := userIDFromContext(r.Context())
	ns, err := s.coordinator.IngestName(r.Context(), req.Name, req.DateOfBirth, req.SoundsLike, req.CriminalOnly, userID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "name search failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"searchId": ns.SearchID,
		"results":  map[string]types.SearchResult{},
	})
}

// handleGetNameSearch implements GET /name-search/{searchId}.
func (s *Server) handleGetNameSearch(w http.ResponseWriter, r *http.Request) {
	searchID := r.PathValue("searchId")
	ns, results, err := s.coordinator.NameSearchStatus(r.Context(), searchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "name search lookup failed")
		return
	}
	if ns == nil {
		writeError(w, http.StatusBadRequest, "unknown search id")
		return
	}

	resp := map[string]any{
		"searchId": ns.SearchID,
		"results":  results,
		"success":  ns.Status == types.NameSearchComplete,
	}
	if ns.Status == types.NameSearchFailed {
		resp["error"] = ns.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePortalCredentials implements POST /portal-credentials: the
// credentials are verified against the portal before they are
// persisted, so a typo is reported immediately rather than surfacing
// as a failed case hours later.
func (s *Server) handlePortalCredentials(w http.ResponseWriter, r *http.Request) {
	var req portalCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if _, err := s.sessionMgr.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			writeError(w, http.StatusUnauthorized, "Authentication failed: "+authErr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to verify portal credentials")
		return
	}

	userID := userIDFromContext(r.Context())
	if err := s.store.SavePortalCredentials(r.Context(), userID, req.Username, req.Password); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save portal credentials")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
