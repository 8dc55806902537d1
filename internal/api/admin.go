package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"fitchat/internal/auth"
	"fitchat/internal/models"
	"fitchat/internal/realtime"
)

type tokenIssuer interface {
	IssueToken(username string) (auth.TokenResponse, error)
	Revoke(token string) error
}

type snapshotReader interface {
	Get(path string) (realtime.Snapshot, error)
}

type AdminHandler struct {
	authService tokenIssuer
	db          snapshotReader
}

func NewAdminHandler(authService tokenIssuer, db snapshotReader) *AdminHandler {
	return &AdminHandler{authService: authService, db: db}
}

type RevokeTokenRequest struct {
	Token string `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	resp, err := h.authService.IssueToken(req.Username)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, auth.TokenResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to issue token: %s", resp.Message),
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) RevokeTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req RevokeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}

	if err := h.authService.Revoke(req.Token); err != nil {
		writeJSON(w, http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to revoke token: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Token revoked"})
}

// SnapshotHandler returns the current value at ?path= as JSON.
func (h *AdminHandler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.db.Get(r.URL.Query().Get("path"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, realtime.ErrInvalidPath) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, models.APIResponse{Success: false, Message: err.Error()})
		return
	}
	if !snap.Exists() {
		writeJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Message: fmt.Sprintf("%s: %s", models.ErrNotFound, snap.Path),
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
