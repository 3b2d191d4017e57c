package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/healthchat-app/HealthChat/internal/core"
	"github.com/healthchat-app/HealthChat/internal/core/clock"
	"github.com/healthchat-app/HealthChat/internal/core/notify"
	"github.com/healthchat-app/HealthChat/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPatientNotFound = errors.New("patient not found")
)

// DefaultSessionTitle names a session until its first user message fixes
// the title.
const DefaultSessionTitle = "New Conversation"

// titleRuneLimit caps derived session titles.
const titleRuneLimit = 25

// SessionDirectory owns, for one selected patient, the in-memory list of
// chat sessions and the identity of the current one, and mirrors every
// mutation to the patient's slot in the profile store.
//
// Consistency policy: local state is the source of truth, the remote copy
// is a best-effort mirror (last local write wins, no conflict detection).
// A failed synchronize is published on the notification bus and returned,
// but never rolls back in-memory state; the next mutation's synchronize is
// the retry. Concurrent edits from a second device or tab are not
// coordinated.
type SessionDirectory struct {
	store core.ProfileStore
	clk   clock.Clock
	bus   *notify.Bus

	email     string
	patientID string
	patient   *models.Patient
	sessions  []models.ChatSession
	activeID  string
}

func NewSessionDirectory(store core.ProfileStore, clk clock.Clock, bus *notify.Bus) *SessionDirectory {
	return &SessionDirectory{store: store, clk: clk, bus: bus}
}

// Load resolves the target patient's stored session list, migrating legacy
// shapes and synthesizing a greeting session when no history exists.
// After Load returns, exactly one session is active and the remote copy
// matches memory (unless synchronize failed, which is reported but not
// fatal).
func (d *SessionDirectory) Load(ctx context.Context, profile *models.Profile, patientID string) error {
	patient := profile.PatientView(patientID)
	if patient == nil {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}

	d.email = profile.Email
	d.patientID = patient.ID
	d.patient = patient

	sessions, migrated, err := models.DecodeHistory(profile.PatientHistory(patientID), d.clk.Now())
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		sessions = []models.ChatSession{d.newGreetingSession()}
		migrated = true
	}

	sortByRecency(sessions)
	d.sessions = sessions
	d.activeID = sessions[0].ID

	if migrated {
		return d.synchronize(ctx)
	}
	return nil
}

// SwitchPatient re-loads for the new target. The previous patient's list
// is simply discarded; it was made durable by prior mutations.
func (d *SessionDirectory) SwitchPatient(ctx context.Context, profile *models.Profile, patientID string) error {
	return d.Load(ctx, profile, patientID)
}

// CreateSession prepends a fresh greeting session, makes it active and
// persists the full list. There is no upper bound on session count.
func (d *SessionDirectory) CreateSession(ctx context.Context) (*models.ChatSession, error) {
	s := d.newGreetingSession()
	d.sessions = append([]models.ChatSession{s}, d.sessions...)
	d.activeID = s.ID

	err := d.synchronize(ctx)
	return &d.sessions[0], err
}

// AppendMessage appends one turn to the named session. The session's first
// user-authored message fixes its title; the timestamp bump re-sorts the
// list so directory order always reflects recency of activity.
//
// An unknown session id yields ErrSessionNotFound: a late reply captured
// against a session that no longer exists must be dropped, not appended to
// whatever is active now. Any other returned error is a synchronize
// failure; the returned session is still valid and memory is updated.
func (d *SessionDirectory) AppendMessage(ctx context.Context, sessionID string, msg models.ChatMessage) (*models.ChatSession, error) {
	idx := d.indexOf(sessionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s := &d.sessions[idx]
	firstUserTurn := msg.Role == models.RoleUser && !s.HasUserMessage()
	s.Messages = append(s.Messages, msg)
	if firstUserTurn {
		// An image-only turn has no text to title with; keep the default.
		if t := deriveTitle(msg.Content); t != "" {
			s.Title = t
		}
	}
	s.UpdatedAt = d.clk.Now()

	sortByRecency(d.sessions)
	d.activeID = sessionID

	err := d.synchronize(ctx)
	return &d.sessions[d.indexOf(sessionID)], err
}

// Sessions returns the directory in display order (most recent first).
func (d *SessionDirectory) Sessions() []models.ChatSession {
	return d.sessions
}

// ActiveID returns the id of the currently displayed session.
func (d *SessionDirectory) ActiveID() string {
	return d.activeID
}

// Session looks a session up by id.
func (d *SessionDirectory) Session(id string) (*models.ChatSession, bool) {
	idx := d.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return &d.sessions[idx], true
}

// Patient returns the loaded patient's medical-context view.
func (d *SessionDirectory) Patient() *models.Patient {
	return d.patient
}

// synchronize writes the full session-list snapshot to the patient's slot:
// the top-level history field for the primary patient, the nested family
// element otherwise. In-memory state is never rolled back on failure.
func (d *SessionDirectory) synchronize(ctx context.Context) error {
	raw, err := models.EncodeHistory(d.sessions)
	if err == nil {
		if d.patientID == models.PatientSelf {
			err = d.store.UpdateChatHistory(ctx, d.email, raw)
		} else {
			err = d.store.UpdateFamilyChatHistory(ctx, d.email, d.patientID, raw)
		}
	}
	if err != nil {
		d.bus.Publish(notify.Event{
			Kind:   notify.KindError,
			Title:  "Sync failed",
			Detail: "Your conversation is saved on this device but could not be saved remotely.",
		})
		return fmt.Errorf("synchronize sessions: %w", err)
	}
	return nil
}

func (d *SessionDirectory) newGreetingSession() models.ChatSession {
	return models.ChatSession{
		ID:    uuid.NewString(),
		Title: DefaultSessionTitle,
		Messages: []models.ChatMessage{{
			Role:    models.RoleAssistant,
			Content: greeting(d.patient.FirstName()),
		}},
		UpdatedAt: d.clk.Now(),
	}
}

func (d *SessionDirectory) indexOf(sessionID string) int {
	for i := range d.sessions {
		if d.sessions[i].ID == sessionID {
			return i
		}
	}
	return -1
}

func greeting(firstName string) string {
	if firstName == "" {
		return "Hello! I'm HealthChat, your AI health assistant. I can help you with health information and guidance. How can I assist you today?"
	}
	return fmt.Sprintf("Hello %s! I'm HealthChat, your AI health assistant. I can help you with health information and guidance. How can I assist you today?", firstName)
}

// deriveTitle takes the first 25 characters of the message, with an
// ellipsis when truncated. Whitespace-only content yields "".
func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleRuneLimit {
		return text
	}
	return string(runes[:titleRuneLimit]) + "..."
}

// sortByRecency orders sessions by last activity, newest first. The sort
// is stable so same-instant sessions keep their relative order.
func sortByRecency(sessions []models.ChatSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
