package httpapi

import (
	"errors"
	"net/http"
	"time"

	"carebase.org/internal/claims"
)

type tokenRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	OrganizationID string `json:"organization_id"`
}

type tokenResponse struct {
	Token             string    `json:"token"`
	ExpiresAt         time.Time `json:"expires_at"`
	TenantID          string    `json:"tenant_id"`
	AccessBlocked     bool      `json:"access_blocked"`
	AccessBlockReason string    `json:"access_block_reason,omitempty"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.issuer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	token, tokenClaims, err := a.issuer.IssueWithCredentials(r.Context(), req.Email, req.Password, req.OrganizationID)
	if err != nil {
		if errors.Is(err, claims.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:             token.Value,
		ExpiresAt:         token.ExpiresAt,
		TenantID:          tokenClaims.TenantID,
		AccessBlocked:     tokenClaims.AccessBlocked,
		AccessBlockReason: tokenClaims.AccessBlockReason,
	})
}
