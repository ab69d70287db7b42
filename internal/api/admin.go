package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"campuschat/internal/auth"
	"campuschat/internal/models"
)

// TokenIssuer is the part of the auth service the admin API needs.
type TokenIssuer interface {
	IssueToken(userID string) (auth.TokenResponse, error)
	Revoke(token string) error
}

type AdminHandler struct {
	authService TokenIssuer
}

func NewAdminHandler(authService TokenIssuer) *AdminHandler {
	return &AdminHandler{authService: authService}
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

type RevokeTokenRequest struct {
	Token string `json:"token"`
}

func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	resp, err := h.authService.IssueToken(req.UserID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, auth.TokenResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to issue token: %v", err),
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) RevokeTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req RevokeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.authService.Revoke(req.Token); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to revoke token: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Token revoked"})
}
