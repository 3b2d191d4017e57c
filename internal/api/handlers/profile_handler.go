package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/healthchat-app/HealthChat/internal/models"
	"github.com/healthchat-app/HealthChat/internal/services"
)

type ProfileHandler struct {
	profiles *services.ProfileService
}

func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	profile, err := h.profiles.Get(r.Context(), email)
	if errors.Is(err, services.ErrProfileNotFound) {
		http.Error(w, "no account found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "could not load profile", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// SaveProfile applies one editor save: the primary fields plus the full
// family-member list (at most three).
func (h *ProfileHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var upd models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	err := h.profiles.Save(r.Context(), email, &upd)
	switch {
	case errors.Is(err, services.ErrFamilyLimit):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, services.ErrProfileNotFound):
		http.Error(w, "no account found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "could not save profile", http.StatusInternalServerError)
		return
	}

	profile, err := h.profiles.Get(r.Context(), email)
	if err != nil {
		http.Error(w, "saved, but could not reload profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
