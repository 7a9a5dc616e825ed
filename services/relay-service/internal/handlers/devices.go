package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type deviceTokenRequest struct {
	Token string `json:"token"`
}

// DeviceToken stores or removes the caller's FCM device token. Clients call
// this on login and on token refresh so offline push delivery can reach them.
func (h *Handler) DeviceToken(w http.ResponseWriter, r *http.Request) {
	claims, err := h.claimsFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut:
		var req deviceTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		if err := h.tokens.Set(r.Context(), claims.Sub, req.Token); err != nil {
			h.logger.Error("failed to store push token", "user_id", claims.Sub, "err", err)
			http.Error(w, "failed to store token", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := h.tokens.Invalidate(r.Context(), claims.Sub); err != nil {
			h.logger.Error("failed to remove push token", "user_id", claims.Sub, "err", err)
			http.Error(w, "failed to remove token", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
