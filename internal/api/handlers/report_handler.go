package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/healthchat-app/HealthChat/internal/config"
	"github.com/healthchat-app/HealthChat/internal/core"
	objectclient "github.com/healthchat-app/HealthChat/internal/core/object-client"
	"github.com/healthchat-app/HealthChat/internal/models"
	"github.com/healthchat-app/HealthChat/internal/services"
)

type ReportHandler struct {
	profiles     *services.ProfileService
	objectclient core.ObjectClient
	cfg          *config.Config
}

func NewReportHandler(profiles *services.ProfileService, objectclient core.ObjectClient, cfg *config.Config) *ReportHandler {
	return &ReportHandler{profiles: profiles, objectclient: objectclient, cfg: cfg}
}

// Upload stores a medical report in object storage and attaches its
// reference to the named patient's profile record.
func (h *ReportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.ParseMultipartForm(32 << 20)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	patientID := r.FormValue("patient_id")
	if patientID == "" {
		patientID = models.PatientSelf
	}

	// Sanitize filename to prevent path traversal or invalid characters
	cleanFilename := strings.ReplaceAll(filepath.Base(header.Filename), " ", "_")
	key := fmt.Sprintf("reports/%s/%s/%s", email, uuid.NewString(), cleanFilename)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := h.objectclient.UploadFile(r.Context(), h.cfg.BucketName, key, file, contentType)
	if err != nil {
		http.Error(w, fmt.Sprintf("upload failed: %v", err), http.StatusBadGateway)
		return
	}

	ref := models.FileRef{Name: header.Filename, URL: url}
	if err := h.profiles.AttachReport(r.Context(), email, patientID, ref); err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to store report reference", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ref)
}

type deleteReportRequest struct {
	PatientID string `json:"patient_id"`
	URL       string `json:"url"`
}

// Delete removes a report reference from the profile record and makes a
// best-effort attempt to remove the stored object.
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req deleteReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	removed, err := h.profiles.RemoveReport(r.Context(), email, req.PatientID, req.URL)
	if err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}

	if key := objectclient.KeyFromURL(h.cfg.BucketName, h.cfg.AwsRegion, removed.URL); key != "" {
		if err := h.objectclient.DeleteFile(r.Context(), h.cfg.BucketName, key); err != nil {
			log.Printf("WARN: could not delete stored report %s: %v", key, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "report removed"})
}
