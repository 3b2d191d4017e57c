package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/core/clock"
	"github.com/healthchat-app/HealthChat/internal/core/notify"
	"github.com/healthchat-app/HealthChat/internal/models"
	"github.com/healthchat-app/HealthChat/internal/services"
)

// apologyText replaces the assistant's reply when the chat-completion
// call fails, so the transcript stays well-formed.
const apologyText = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."

const syncNotice = "Your conversation is saved on this device but could not be saved remotely."

type ChatHandler struct {
	profiles *services.ProfileService
	store    core.ProfileStore
	chat     core.ChatProvider
	clk      clock.Clock
	bus      *notify.Bus
}

func NewChatHandler(profiles *services.ProfileService, store core.ProfileStore, chat core.ChatProvider, clk clock.Clock, bus *notify.Bus) *ChatHandler {
	return &ChatHandler{profiles: profiles, store: store, chat: chat, clk: clk, bus: bus}
}

type directoryResponse struct {
	PatientID string               `json:"patient_id"`
	ActiveID  string               `json:"active_id"`
	Sessions  []models.ChatSession `json:"sessions"`
	Notice    string               `json:"notice,omitempty"`
}

// GetSessions loads the session directory for the requested patient,
// creating or migrating history as needed.
func (h *ChatHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	patientID := r.URL.Query().Get("patient")

	dir, notice := h.loadDirectory(w, r, email, patientID)
	if dir == nil {
		return
	}

	writeJSON(w, http.StatusOK, directoryResponse{
		PatientID: dir.Patient().ID,
		ActiveID:  dir.ActiveID(),
		Sessions:  dir.Sessions(),
		Notice:    notice,
	})
}

type createSessionRequest struct {
	PatientID string `json:"patient_id"`
}

// CreateSession prepends a fresh session for the patient and makes it
// active.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	dir, notice := h.loadDirectory(w, r, email, req.PatientID)
	if dir == nil {
		return
	}

	if _, err := dir.CreateSession(r.Context()); err != nil {
		notice = syncNotice
	}

	writeJSON(w, http.StatusOK, directoryResponse{
		PatientID: dir.Patient().ID,
		ActiveID:  dir.ActiveID(),
		Sessions:  dir.Sessions(),
		Notice:    notice,
	})
}

type sendRequest struct {
	PatientID string `json:"patient_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	ImageURL  string `json:"image_url"`
}

type sendResponse struct {
	directoryResponse
	Session *models.ChatSession `json:"session"`
}

// Send runs one full send/receive cycle: append the user turn, ask the
// chat-completion collaborator for a reply with the active patient's own
// context, and append exactly one assistant message.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	email, ok := r.Context().Value("email").(string)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" && req.ImageURL == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	dir, notice := h.loadDirectory(w, r, email, req.PatientID)
	if dir == nil {
		return
	}

	// Capture the target session before any suspension point; a reply
	// landing after a switch must only ever append to this identifier.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = dir.ActiveID()
	}

	session, found := dir.Session(sessionID)
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	history := append([]models.ChatMessage(nil), session.Messages...)

	userMsg := models.ChatMessage{Role: models.RoleUser, Content: req.Message, ImageURL: req.ImageURL}
	if _, err := dir.AppendMessage(r.Context(), sessionID, userMsg); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		notice = syncNotice
	}

	reply, err := h.chat.Reply(r.Context(), &core.ChatRequest{
		Patient:  dir.Patient(),
		History:  history,
		Message:  req.Message,
		ImageURL: req.ImageURL,
	})
	if err != nil || reply == "" {
		if err != nil {
			log.Printf("chat completion failed: %v", err)
		}
		reply = apologyText
		h.bus.Publish(notify.Event{
			Kind:   notify.KindError,
			Title:  "Assistant unavailable",
			Detail: "The assistant could not respond; an apology was added instead.",
		})
		if notice == "" {
			notice = "The assistant had trouble responding. Please try again."
		}
	}

	h.appendReply(w, r, dir, sessionID, reply, notice)
}

// appendReply appends the assistant turn and writes the final response.
// A reply whose captured session no longer exists is dropped, never
// re-homed onto whatever session is active now.
func (h *ChatHandler) appendReply(w http.ResponseWriter, r *http.Request, dir *services.SessionDirectory, sessionID, reply, notice string) {
	assistantMsg := models.ChatMessage{Role: models.RoleAssistant, Content: reply}
	updated, err := dir.AppendMessage(r.Context(), sessionID, assistantMsg)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			writeJSON(w, http.StatusOK, directoryResponse{
				PatientID: dir.Patient().ID,
				ActiveID:  dir.ActiveID(),
				Sessions:  dir.Sessions(),
				Notice:    "That conversation is no longer available.",
			})
			return
		}
		notice = syncNotice
	}

	writeJSON(w, http.StatusOK, sendResponse{
		directoryResponse: directoryResponse{
			PatientID: dir.Patient().ID,
			ActiveID:  dir.ActiveID(),
			Sessions:  dir.Sessions(),
			Notice:    notice,
		},
		Session: updated,
	})
}

// loadDirectory fetches the profile and loads the patient's session
// directory, writing the HTTP error itself when that fails. A nil return
// means the response is already written. The returned notice is non-empty
// when the load succeeded but its persistence step did not.
func (h *ChatHandler) loadDirectory(w http.ResponseWriter, r *http.Request, email, patientID string) (*services.SessionDirectory, string) {
	profile, err := h.profiles.Get(r.Context(), email)
	if errors.Is(err, services.ErrProfileNotFound) {
		http.Error(w, "no account found", http.StatusNotFound)
		return nil, ""
	}
	if err != nil {
		http.Error(w, "could not load profile", http.StatusInternalServerError)
		return nil, ""
	}

	dir := services.NewSessionDirectory(h.store, h.clk, h.bus)
	if err := dir.Load(r.Context(), profile, patientID); err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return nil, ""
		}
		// Load succeeded in memory but the migration/greeting snapshot
		// could not be persisted; surface as a notice, not a failure.
		if len(dir.Sessions()) > 0 {
			return dir, syncNotice
		}
		http.Error(w, "could not load chat history", http.StatusInternalServerError)
		return nil, ""
	}
	return dir, ""
}
