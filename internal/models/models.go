package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Message roles. Legacy records used "bot" for assistant turns; the
// history codec normalizes that on load.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Account roles.
const (
	RoleAccountUser  = "user"
	RoleAccountAdmin = "admin"
)

// PatientSelf identifies the primary account holder as the active patient.
const PatientSelf = "self"

// MaxFamilyMembers is the hard cap on family sub-profiles per account.
const MaxFamilyMembers = 3

// FileRef points at a medical report held in object storage.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChatMessage is one turn in a session. Messages are immutable once
// appended and keep insertion order.
type ChatMessage struct {
	Role     string `json:"role"` // "user" or "assistant"
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// ChatSession is a titled, timestamped conversation belonging to a single
// patient. A session always holds at least one message (the greeting).
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HasUserMessage reports whether any user-authored turn exists yet.
// The session title is derived from the first one and fixed after that.
func (s *ChatSession) HasUserMessage() bool {
	for i := range s.Messages {
		if s.Messages[i].Role == RoleUser {
			return true
		}
	}
	return false
}

// FamilyMember is a sub-profile embedded in the primary account record.
// It is owned exclusively by that record; removing it cascades to its
// reports list and chat history.
type FamilyMember struct {
	ID               string          `json:"id"`
	FullName         string          `json:"full_name"`
	Age              string          `json:"age"`
	Gender           string          `json:"gender"`
	ExistingDiseases string          `json:"existing_diseases"`
	Allergies        string          `json:"allergies"`
	CurrentMedicines string          `json:"current_medicines"`
	FileRefs         []FileRef       `json:"file_urls"`
	ChatHistory      json.RawMessage `json:"chat_history,omitempty"`
}

// Profile is the account record stored in the profile store, keyed by
// email. It is the aggregate root: family members and their session data
// are reachable only through it.
type Profile struct {
	Email            string          `db:"email" json:"email"`
	PasswordHash     string          `db:"password_hash" json:"-"`
	Role             string          `db:"role" json:"role"`
	FullName         string          `db:"full_name" json:"full_name"`
	PhoneNumber      string          `db:"phone_number" json:"phone_number"`
	Age              string          `db:"age" json:"age"`
	Gender           string          `db:"gender" json:"gender"`
	ExistingDiseases string          `db:"existing_diseases" json:"existing_diseases"`
	Allergies        string          `db:"allergies" json:"allergies"`
	CurrentMedicines string          `db:"current_medicines" json:"current_medicines"`
	FileRefs         []FileRef       `db:"file_urls" json:"file_urls"`
	FamilyMembers    []FamilyMember  `db:"family_members" json:"family_members"`
	ChatHistory      json.RawMessage `db:"chat_history" json:"-"`
	IsBanned         bool            `db:"is_banned" json:"is_banned"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// ProfileUpdate carries the fields the profile editor may change in one
// save. All mutation of family members goes through here, never through a
// member addressed on its own.
type ProfileUpdate struct {
	FullName         string         `json:"full_name"`
	Age              string         `json:"age"`
	Gender           string         `json:"gender"`
	ExistingDiseases string         `json:"existing_diseases"`
	Allergies        string         `json:"allergies"`
	CurrentMedicines string         `json:"current_medicines"`
	FileRefs         []FileRef      `json:"file_urls"`
	FamilyMembers    []FamilyMember `json:"family_members"`
}

// Patient is the medical-context view the chat pipeline works with:
// either the primary account holder ("self") or one family member.
type Patient struct {
	ID               string    `json:"id"`
	FullName         string    `json:"full_name"`
	Age              string    `json:"age"`
	Gender           string    `json:"gender"`
	ExistingDiseases string    `json:"existing_diseases"`
	Allergies        string    `json:"allergies"`
	CurrentMedicines string    `json:"current_medicines"`
	FileRefs         []FileRef `json:"file_urls"`
}

// FirstName returns the leading token of the patient's full name, used to
// personalize the greeting message.
func (p *Patient) FirstName() string {
	fields := strings.Fields(p.FullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// PatientView resolves a patient identifier against the aggregate.
// Returns nil when no such patient exists.
func (p *Profile) PatientView(patientID string) *Patient {
	if patientID == "" || patientID == PatientSelf {
		return &Patient{
			ID:               PatientSelf,
			FullName:         p.FullName,
			Age:              p.Age,
			Gender:           p.Gender,
			ExistingDiseases: p.ExistingDiseases,
			Allergies:        p.Allergies,
			CurrentMedicines: p.CurrentMedicines,
			FileRefs:         p.FileRefs,
		}
	}
	for i := range p.FamilyMembers {
		if p.FamilyMembers[i].ID == patientID {
			m := &p.FamilyMembers[i]
			return &Patient{
				ID:               m.ID,
				FullName:         m.FullName,
				Age:              m.Age,
				Gender:           m.Gender,
				ExistingDiseases: m.ExistingDiseases,
				Allergies:        m.Allergies,
				CurrentMedicines: m.CurrentMedicines,
				FileRefs:         m.FileRefs,
			}
		}
	}
	return nil
}

// PatientHistory returns the stored chat history blob for a patient.
func (p *Profile) PatientHistory(patientID string) json.RawMessage {
	if patientID == "" || patientID == PatientSelf {
		return p.ChatHistory
	}
	for i := range p.FamilyMembers {
		if p.FamilyMembers[i].ID == patientID {
			return p.FamilyMembers[i].ChatHistory
		}
	}
	return nil
}
