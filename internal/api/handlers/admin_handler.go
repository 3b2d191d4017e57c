package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/models"
)

type AdminHandler struct {
	store  core.ProfileStore
	mailer core.Mailer
}

func NewAdminHandler(store core.ProfileStore, mailer core.Mailer) *AdminHandler {
	return &AdminHandler{store: store, mailer: mailer}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListProfiles(r.Context())
	if err != nil {
		http.Error(w, "could not list users", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

type banRequest struct {
	Email  string `json:"email"`
	Banned bool   `json:"banned"`
}

// SetBanned suspends or restores an account. A banned account is refused
// at both login and re-signup.
func (h *AdminHandler) SetBanned(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	if err := h.store.SetBanned(r.Context(), strings.ToLower(req.Email), req.Banned); err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"banned": req.Banned})
}

// DeleteUser removes the whole account aggregate: the primary profile,
// its family members and every patient's chat history go with the row.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteProfile(r.Context(), email); err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}

type broadcastRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Broadcast mails every active (non-banned) user account.
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Subject == "" || req.Message == "" {
		http.Error(w, "subject and message are required", http.StatusBadRequest)
		return
	}

	profiles, err := h.store.ListProfiles(r.Context())
	if err != nil {
		http.Error(w, "could not list users", http.StatusInternalServerError)
		return
	}

	var recipients []string
	for _, p := range profiles {
		if p.Role == models.RoleAccountUser && !p.IsBanned {
			recipients = append(recipients, p.Email)
		}
	}

	if err := h.mailer.Broadcast(r.Context(), recipients, req.Subject, req.Message); err != nil {
		log.Printf("broadcast failed: %v", err)
		http.Error(w, "failed to send broadcast", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": len(recipients)})
}
