package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"carebase.org/internal/accountability"
	"carebase.org/internal/auth"
	"carebase.org/internal/authz"
)

type accountabilityRequest struct {
	UserID      string `json:"user_id"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
}

type accountabilityListResponse struct {
	Items []accountability.Assignment `json:"items"`
	Count int                         `json:"count"`
	AsOf  time.Time                   `json:"as_of"`
}

func (a *API) handleAccountabilityAssignments(w http.ResponseWriter, r *http.Request) {
	if a.accountability == nil {
		writeError(w, r, http.StatusServiceUnavailable, "accountability unavailable")
		return
	}
	switch r.Method {
	case http.MethodPost, http.MethodDelete:
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, authz.PermAccountabilityManage, "") {
		return
	}

	var req accountabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	subjectType := accountability.SubjectType(req.SubjectType)

	if r.Method == http.MethodDelete {
		if err := a.accountability.Unassign(r.Context(), req.UserID, subjectType, req.SubjectID); err != nil {
			handleAccountabilityError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	assignment, err := a.accountability.Assign(r.Context(), req.UserID, subjectType, req.SubjectID)
	if err != nil {
		handleAccountabilityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) handleAccountabilityForUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.accountability == nil {
		writeError(w, r, http.StatusServiceUnavailable, "accountability unavailable")
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accountability/users/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	// Users may read their own assignments; anything else needs the manage
	// permission.
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if principal.UserID != userID && !a.ensurePermission(w, r, authz.PermAccountabilityManage, "") {
		return
	}

	items, err := a.accountability.ListForUser(r.Context(), userID)
	if err != nil {
		handleAccountabilityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountabilityListResponse{Items: items, Count: len(items), AsOf: time.Now().UTC()})
}

func (a *API) handleAccountabilityForSubject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.accountability == nil {
		writeError(w, r, http.StatusServiceUnavailable, "accountability unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/accountability/subjects/"), "/")
	subjectType, subjectID, ok := strings.Cut(path, "/")
	if !ok || subjectID == "" || strings.Contains(subjectID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermission(w, r, authz.PermAccountabilityManage, "") {
		return
	}

	items, err := a.accountability.ListForSubject(r.Context(), accountability.SubjectType(subjectType), subjectID)
	if err != nil {
		handleAccountabilityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountabilityListResponse{Items: items, Count: len(items), AsOf: time.Now().UTC()})
}

func handleAccountabilityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, accountability.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, accountability.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
