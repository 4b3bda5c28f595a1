package token

import (
	"encoding/json"
	"errors"
	"net/http"
)

// resetRequestBody is the JSON body for POST /api/v1/auth/reset-request.
type resetRequestBody struct {
	AccountID string `json:"account_id"`
}

// resetConfirmBody is the JSON body for POST /api/v1/auth/reset-confirm.
type resetConfirmBody struct {
	Token string `json:"token"`
}

// HandleResetRequest handles POST /api/v1/auth/reset-request
// Delivery of the token (mail, etc.) is the caller's concern.
func (i *Issuer) HandleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	t, err := i.IssueReset(r.Context(), req.AccountID)
	if err != nil {
		writeError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"token":      t.Token,
		"expires_at": t.ExpiresAt,
	})
}

// HandleResetConfirm handles POST /api/v1/auth/reset-confirm
func (i *Issuer) HandleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		writeError(w, "token is required", http.StatusBadRequest)
		return
	}

	accountID, err := i.ConsumeReset(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			writeError(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		writeError(w, "failed to confirm token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"account_id": accountID})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
